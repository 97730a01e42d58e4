package llm

import "askh/internal/filetree"

// Template returns the starter files for a project type
func Template(kind ProjectType) []filetree.FlatFile {
	if kind == ProjectService {
		return nodeTemplate()
	}
	return reactTemplate()
}

func nodeTemplate() []filetree.FlatFile {
	return []filetree.FlatFile{
		{Path: "/index.js", Content: "// run `node index.js` in the terminal\n\nconsole.log(`Hello Node.js v${process.versions.node}!`);\n"},
		{Path: "/package.json", Content: `{
  "name": "node-starter",
  "private": true,
  "scripts": {
    "dev": "node index.js",
    "test": "echo \"Error: no test specified\" && exit 1"
  }
}
`},
	}
}

func reactTemplate() []filetree.FlatFile {
	return []filetree.FlatFile{
		{Path: "/package.json", Content: `{
  "name": "vite-react-starter",
  "private": true,
  "version": "0.0.0",
  "type": "module",
  "scripts": {
    "dev": "vite",
    "build": "vite build",
    "preview": "vite preview"
  },
  "dependencies": {
    "react": "^18.3.1",
    "react-dom": "^18.3.1"
  },
  "devDependencies": {
    "@vitejs/plugin-react": "^4.3.1",
    "vite": "^5.4.2"
  }
}
`},
		{Path: "/index.html", Content: `<!doctype html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>App</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="/src/main.jsx"></script>
  </body>
</html>
`},
		{Path: "/vite.config.js", Content: `import { defineConfig } from 'vite';
import react from '@vitejs/plugin-react';

export default defineConfig({
  plugins: [react()],
});
`},
		{Path: "/src/main.jsx", Content: `import { StrictMode } from 'react';
import { createRoot } from 'react-dom/client';
import App from './App.jsx';

createRoot(document.getElementById('root')).render(
  <StrictMode>
    <App />
  </StrictMode>
);
`},
		{Path: "/src/App.jsx", Content: `export default function App() {
  return <main>Start prompting to build your app.</main>;
}
`},
	}
}
