// internal/websocket/types.go
package websocket

// Message kinds
const (
	KindRequest  = "rpc_request"
	KindResponse = "rpc_response"
	KindEvent    = "event"
)

// RPCRequest 表示从前端发来的 RPC 请求
type RPCRequest struct {
	ID     string        `json:"id"`
	Method string        `json:"method"` // 方法名，如 "FollowUp"
	Params []interface{} `json:"params"`
}

// RPCResponse 表示返回给前端的 RPC 响应
type RPCResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// WSEvent 表示后端主动推送的事件
type WSEvent struct {
	Type    string      `json:"type"` // 事件类型，如 "preview:status"
	Payload interface{} `json:"payload"`
}

// WSMessage 是 WebSocket 消息的统一封装
type WSMessage struct {
	Kind string `json:"kind"`

	Request  *RPCRequest  `json:"request,omitempty"`
	Response *RPCResponse `json:"response,omitempty"`
	Event    *WSEvent     `json:"event,omitempty"`
}
