package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/queuewatch/internal/board"
)

// list returns the record array of a collector body. The collector answers
// with either a bare array or an object holding the array under "value";
// any other valid JSON is treated as an empty list.
func list(body []byte) (gjson.Result, bool, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, false, fmt.Errorf("%w: response is not valid json", board.ErrFetchFailed)
	}
	root := gjson.ParseBytes(body)
	if root.IsArray() {
		return root, true, nil
	}
	if v := root.Get("value"); v.IsArray() {
		return v, true, nil
	}
	return gjson.Result{}, false, nil
}

// DecodeQueues parses a queue telemetry body into records, in body order.
func DecodeQueues(body []byte) ([]board.RawQueueRecord, error) {
	arr, ok, err := list(body)
	if err != nil {
		return nil, err
	}
	out := make([]board.RawQueueRecord, 0)
	if !ok {
		return out, nil
	}
	arr.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			return true
		}
		out = append(out, board.RawQueueRecord{
			ServerName:   v.Get("serverName").String(),
			QueueName:    v.Get("queueName").String(),
			MessageCount: CoerceCount(v.Get("messageCount")),
			Status:       v.Get("status").String(),
		})
		return true
	})
	return out, nil
}

// DecodeConfiguredServers parses the configured-servers body. Entries may be
// plain names or {name, status} objects; entries without a name are skipped.
func DecodeConfiguredServers(body []byte) ([]board.ConfiguredServer, error) {
	arr, ok, err := list(body)
	if err != nil {
		return nil, err
	}
	out := make([]board.ConfiguredServer, 0)
	if !ok {
		return out, nil
	}
	arr.ForEach(func(_, v gjson.Result) bool {
		var s board.ConfiguredServer
		switch {
		case v.Type == gjson.String:
			s = board.ConfiguredServer{Name: v.String(), Status: board.ServerUnknown}
		case v.IsObject():
			s = board.ConfiguredServer{
				Name:   v.Get("name").String(),
				Status: board.ParseServerStatus(v.Get("status").String()),
			}
		}
		if s.Name != "" {
			out = append(out, s)
		}
		return true
	})
	return out, nil
}

// CoerceCount reads a message count that may arrive as a JSON number or a
// numeric string. Anything unparseable, negative or non-finite is 0;
// fractions are truncated.
func CoerceCount(v gjson.Result) int64 {
	var f float64
	switch v.Type {
	case gjson.Number:
		f = v.Num
	case gjson.String:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}

	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	default:
		return int64(f)
	}
}
