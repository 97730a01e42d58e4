// internal/websocket/router.go
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

// Router 将 RPC 方法名映射到 App 的公开方法
type Router struct {
	app     interface{}
	methods map[string]reflect.Method
}

// NewRouter 通过反射注册 app 的所有公开方法
func NewRouter(app interface{}) *Router {
	r := &Router{
		app:     app,
		methods: make(map[string]reflect.Method),
	}

	appType := reflect.TypeOf(app)
	for i := 0; i < appType.NumMethod(); i++ {
		method := appType.Method(i)
		if method.IsExported() {
			r.methods[method.Name] = method
		}
	}

	return r
}

// Methods 返回已注册的方法名（已排序）
func (r *Router) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call 调用指定的 RPC 方法。方法的第一个参数若是 context.Context，
// 则自动传入 ctx，不计入 params。
func (r *Router) Call(ctx context.Context, methodName string, params []interface{}) (interface{}, error) {
	method, ok := r.methods[methodName]
	if !ok {
		return nil, fmt.Errorf("method not found: %s", methodName)
	}

	methodType := method.Type
	args := []reflect.Value{reflect.ValueOf(r.app)}
	first := 1
	if methodType.NumIn() > 1 && methodType.In(1) == contextType {
		args = append(args, reflect.ValueOf(ctx))
		first = 2
	}

	numIn := methodType.NumIn() - first
	if len(params) != numIn {
		return nil, fmt.Errorf("method %s expects %d params, got %d", methodName, numIn, len(params))
	}

	for i, param := range params {
		v, err := convertParam(param, methodType.In(first+i))
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		args = append(args, v)
	}

	return processResults(method.Func.Call(args))
}

// convertParam 将 JSON 解析的值转换为目标类型
func convertParam(param interface{}, targetType reflect.Type) (reflect.Value, error) {
	if param == nil {
		return reflect.Zero(targetType), nil
	}

	paramValue := reflect.ValueOf(param)
	if paramValue.Type().AssignableTo(targetType) {
		return paramValue, nil
	}

	// JSON 数字默认是 float64
	if paramValue.Kind() == reflect.Float64 {
		f := param.(float64)
		switch targetType.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return reflect.ValueOf(int64(f)).Convert(targetType), nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if f < 0 {
				return reflect.Value{}, fmt.Errorf("cannot convert %v to %s", f, targetType)
			}
			return reflect.ValueOf(uint64(f)).Convert(targetType), nil
		}
	}

	switch paramValue.Kind() {
	case reflect.Map, reflect.Slice:
		// 对象和数组经 JSON 重新解码为目标类型
		data, err := json.Marshal(param)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(targetType)
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("cannot decode into %s: %w", targetType, err)
		}
		return ptr.Elem(), nil
	}

	if paramValue.Type().ConvertibleTo(targetType) && paramValue.Kind() == targetType.Kind() {
		return paramValue.Convert(targetType), nil
	}

	return reflect.Value{}, fmt.Errorf("cannot convert %T to %s", param, targetType)
}

// processResults 处理方法返回值：(value)、(error)、(value, error)、(value, bool)
func processResults(results []reflect.Value) (interface{}, error) {
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		if results[0].Type().Implements(errorType) {
			if !results[0].IsNil() {
				return nil, results[0].Interface().(error)
			}
			return nil, nil
		}
		return results[0].Interface(), nil
	case 2:
		last := results[1]
		if last.Kind() == reflect.Bool {
			if !last.Bool() {
				return nil, fmt.Errorf("not found")
			}
			return results[0].Interface(), nil
		}
		if last.Type().Implements(errorType) && !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return results[0].Interface(), nil
	default:
		var result []interface{}
		for i := 0; i < len(results)-1; i++ {
			result = append(result, results[i].Interface())
		}
		last := results[len(results)-1]
		if last.Type().Implements(errorType) && !last.IsNil() {
			return nil, last.Interface().(error)
		}
		return result, nil
	}
}
