package dataservice

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handle(t *testing.T, body string) (map[string]any, string) {
	t.Helper()
	out := New(nil).Handle(context.Background(), []byte(body))
	require.True(t, out.IsOk(), "%v", out.Err())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(out.Response(), &resp))
	return resp, out.Classification()
}

func TestTransformScenarios(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantOutput  string
		wantTask    string
		inputLength float64
	}{
		{"uppercase", `{"payload":"hello","description":"Make it UPPERCASE"}`, `"HELLO"`, "data", 5},
		{"reverse string", `{"payload":"héllo","description":"reverse"}`, `"olléh"`, "data", 5},
		{"plain string", `{"payload":"x"}`, `"Processed: x"`, "data", 1},
		{"square int", `{"payload":7,"description":"square it","task_type":"math"}`, `49`, "math", 1},
		{"double float", `{"payload":1.5,"description":"double"}`, `3`, "data", 3},
		{"number untouched", `{"payload":3}`, `3`, "data", 1},
		{"reverse list", `{"payload":[1,2,3],"description":"reverse"}`, `[3,2,1]`, "data", 7},
		{"sort numbers", `{"payload":[3,1.5,2],"description":"sort"}`, `[1.5,2,3]`, "data", 9},
		{"sort strings", `{"payload":["b","c","a"],"description":"sort"}`, `["a","b","c"]`, "data", 13},
		{"plain list", `{"payload":[1,2]}`, `{"items":[1,2],"count":2,"processed":true}`, "data", 5},
		{"dict", `{"payload":{"a":1,"b":2}}`, `{"a":1,"b":2,"processed":true,"keys_count":2}`, "data", 13},
		{"bool", `{"payload":true}`, `{"value":true,"type":"bool","processed":true}`, "data", 4},
		{"missing payload", `{"description":"uppercase"}`, `""`, "data", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, task := handle(t, tt.body)
			assert.Equal(t, "success", resp["status"])
			assert.Equal(t, tt.wantTask, task)

			out, err := json.Marshal(resp["output"])
			require.NoError(t, err)
			assert.JSONEq(t, tt.wantOutput, string(out))

			meta := resp["metadata"].(map[string]any)
			assert.Equal(t, tt.inputLength, meta["input_length"])
			assert.Equal(t, float64(10), meta["processing_time_ms"])
			assert.NotEmpty(t, resp["processed_at"])
		})
	}
}

func TestInvalidJSONIsAnErrorReply(t *testing.T) {
	resp, task := handle(t, `{not json`)
	assert.Equal(t, ErrorTaskType, task)
	assert.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["error"], "Invalid JSON")
}

func TestMixedSortIsAnErrorReply(t *testing.T) {
	resp, task := handle(t, `{"payload":[1,"a"],"description":"sort"}`)
	assert.Equal(t, ErrorTaskType, task)
	assert.Contains(t, resp["error"], "Processing failed")
}

func TestInputIsEchoed(t *testing.T) {
	resp, _ := handle(t, `{"payload":{"k":[1,2]},"description":"d"}`)
	in, err := json.Marshal(resp["input"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":[1,2]}`, string(in))
	assert.Equal(t, "d", resp["description"])
}
