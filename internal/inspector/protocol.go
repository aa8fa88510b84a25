package inspector

import "context"

type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params struct {
		Expression string `json:"expression"`
	} `json:"params"`
}

type response struct {
	ID     int64     `json:"id"`
	Result any       `json:"result,omitempty"`
	Error  *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type event struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type remoteObject struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type exceptionDetails struct {
	Text string `json:"text"`
}

type evaluateResult struct {
	Result           remoteObject      `json:"result"`
	ExceptionDetails *exceptionDetails `json:"exceptionDetails,omitempty"`
}

type consoleParams struct {
	Type      string         `json:"type"`
	Args      []remoteObject `json:"args"`
	Timestamp float64        `json:"timestamp"`
}

type exceptionParams struct {
	Timestamp        float64          `json:"timestamp"`
	ExceptionDetails exceptionDetails `json:"exceptionDetails"`
}

func (s *Server) handle(ctx context.Context, req request) response {
	resp := response{ID: req.ID}
	switch req.Method {
	case "Runtime.enable", "Debugger.enable", "Runtime.disable", "Debugger.disable":
		resp.Result = struct{}{}
	case "Runtime.runIfWaitingForDebugger":
		s.resume()
		resp.Result = struct{}{}
	case "Runtime.evaluate":
		if s.eval == nil {
			resp.Error = &rpcError{Code: -32000, Message: "evaluation unavailable"}
			break
		}
		out, err := s.eval(ctx, req.Params.Expression)
		if err != nil {
			resp.Result = evaluateResult{
				Result:           remoteObject{Type: "object", Value: err.Error()},
				ExceptionDetails: &exceptionDetails{Text: err.Error()},
			}
			break
		}
		resp.Result = evaluateResult{Result: remoteObject{Type: "string", Value: out}}
	default:
		resp.Error = &rpcError{Code: -32601, Message: "method not found: " + req.Method}
	}
	return resp
}
