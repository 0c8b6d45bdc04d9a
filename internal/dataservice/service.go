// Package dataservice is the example receiver handler: it transforms the
// request's payload according to hints in its description.
package dataservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Aleph-Alpha/rpcbridge/v1/rpc"
)

// DefaultTaskType is used when the request names none.
const DefaultTaskType = "data"

// ErrorTaskType classifies requests that could not be processed.
const ErrorTaskType = "error"

// Request is the body a caller sends.
type Request struct {
	Payload     any    `json:"payload"`
	Description string `json:"description"`
	TaskType    string `json:"task_type"`
}

// Response is the success reply.
type Response struct {
	Status      string   `json:"status"`
	ProcessedAt string   `json:"processed_at"`
	Input       any      `json:"input"`
	Description string   `json:"description"`
	Output      any      `json:"output"`
	Metadata    Metadata `json:"metadata"`
}

type Metadata struct {
	InputLength      int `json:"input_length"`
	ProcessingTimeMS int `json:"processing_time_ms"`
}

// ErrorResponse is returned, as a regular reply, for bodies the service
// cannot process. Callers see it as a remote error because of its "error" key.
type ErrorResponse struct {
	Status      string `json:"status"`
	Error       string `json:"error"`
	ProcessedAt string `json:"processed_at"`
}

// Logger is what the service logs processed requests through.
type Logger interface {
	InfoWithContext(ctx context.Context, msg string, err error, fields ...map[string]interface{})
}

// Service implements rpc.Handler.
type Service struct {
	logger Logger
	now    func() time.Time
}

// New returns a Service. logger may be nil.
func New(logger Logger) *Service {
	return &Service{logger: logger, now: time.Now}
}

var _ rpc.Handler = (*Service)(nil)

// Handle processes one request body. It only fails when the response
// cannot be encoded; bad input yields an ErrorResponse.
func (s *Service) Handle(ctx context.Context, body []byte) rpc.Outcome {
	resp, class := s.Process(ctx, body)
	out, err := json.Marshal(resp)
	if err != nil {
		return rpc.Fail(fmt.Errorf("encode response: %w", err))
	}
	return rpc.Ok(out, class)
}

// Process returns the reply value and the task type for body.
func (s *Service) Process(ctx context.Context, body []byte) (any, string) {
	req, err := decode(body)
	if err != nil {
		return s.errorResponse(fmt.Sprintf("Invalid JSON: %v", err)), ErrorTaskType
	}

	output, err := Transform(req.Payload, req.Description)
	if err != nil {
		return s.errorResponse(fmt.Sprintf("Processing failed: %v", err)), ErrorTaskType
	}

	if s.logger != nil {
		s.logger.InfoWithContext(ctx, "processed data", nil, map[string]interface{}{
			"description": req.Description,
			"task_type":   req.TaskType,
		})
	}

	return Response{
		Status:      "success",
		ProcessedAt: s.timestamp(),
		Input:       req.Payload,
		Description: req.Description,
		Output:      output,
		Metadata: Metadata{
			InputLength:      inputLength(req.Payload),
			ProcessingTimeMS: 10,
		},
	}, req.TaskType
}

func (s *Service) errorResponse(msg string) ErrorResponse {
	return ErrorResponse{Status: "error", Error: msg, ProcessedAt: s.timestamp()}
}

func (s *Service) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

func decode(body []byte) (Request, error) {
	req := Request{Payload: ""}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return Request{}, err
	}
	if req.TaskType == "" {
		req.TaskType = DefaultTaskType
	}
	return req, nil
}

// Transform applies the description's hints to payload. Matching is
// case-insensitive and by substring.
func Transform(payload any, description string) (any, error) {
	hint := strings.ToLower(description)
	switch v := payload.(type) {
	case string:
		return transformString(v, hint), nil
	case json.Number:
		return transformNumber(v, hint)
	case []any:
		return transformList(v, hint)
	case map[string]any:
		out := make(map[string]any, len(v)+2)
		for k, val := range v {
			out[k] = val
		}
		out["processed"] = true
		out["keys_count"] = len(v)
		return out, nil
	default:
		return map[string]any{"value": v, "type": typeName(v), "processed": true}, nil
	}
}

func transformString(s, hint string) string {
	switch {
	case strings.Contains(hint, "uppercase"):
		return strings.ToUpper(s)
	case strings.Contains(hint, "reverse"):
		r := []rune(s)
		for i, j := 0, len(r)-1; i < j; i, j = i+1, j-1 {
			r[i], r[j] = r[j], r[i]
		}
		return string(r)
	default:
		return "Processed: " + s
	}
}

// transformNumber keeps integers integral.
func transformNumber(n json.Number, hint string) (any, error) {
	square := strings.Contains(hint, "square")
	double := !square && strings.Contains(hint, "double")

	if i, err := n.Int64(); err == nil {
		switch {
		case square:
			return i * i, nil
		case double:
			return i * 2, nil
		}
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, err
	}
	switch {
	case square:
		return f * f, nil
	case double:
		return f * 2, nil
	}
	return f, nil
}

func transformList(items []any, hint string) (any, error) {
	switch {
	case strings.Contains(hint, "reverse"):
		out := make([]any, len(items))
		for i, v := range items {
			out[len(items)-1-i] = v
		}
		return out, nil
	case strings.Contains(hint, "sort"):
		return sortList(items)
	default:
		return map[string]any{"items": items, "count": len(items), "processed": true}, nil
	}
}

var errUnorderable = errors.New("list elements are not mutually comparable")

// sortList orders all-number or all-string lists.
func sortList(items []any) ([]any, error) {
	out := append([]any(nil), items...)
	if len(out) == 0 {
		return out, nil
	}
	switch out[0].(type) {
	case json.Number:
		nums := make([]float64, len(out))
		for i, v := range out {
			n, ok := v.(json.Number)
			if !ok {
				return nil, errUnorderable
			}
			f, err := n.Float64()
			if err != nil {
				return nil, err
			}
			nums[i] = f
		}
		idx := make([]int, len(out))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return nums[idx[a]] < nums[idx[b]] })
		sorted := make([]any, len(out))
		for i, j := range idx {
			sorted[i] = out[j]
		}
		return sorted, nil
	case string:
		strs := make([]string, len(out))
		for i, v := range out {
			s, ok := v.(string)
			if !ok {
				return nil, errUnorderable
			}
			strs[i] = s
		}
		sort.Strings(strs)
		for i, s := range strs {
			out[i] = s
		}
		return out, nil
	default:
		return nil, errUnorderable
	}
}

func inputLength(payload any) int {
	if s, ok := payload.(string); ok {
		return utf8.RuneCountInString(s)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(b)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	default:
		return fmt.Sprintf("%T", v)
	}
}
