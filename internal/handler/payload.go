package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/hitoshi/libraryapi/internal/model"
)

const maxBodyBytes = 1 << 20

// payload はリクエストボディのJSONオブジェクト。数値はjson.Numberのまま保持する。
type payload map[string]any

// decodePayload はリクエストボディをJSONオブジェクトとして読み込む。
// 空のボディは空のオブジェクトとして扱う。
func decodePayload(w http.ResponseWriter, r *http.Request) (payload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, model.NewInvalidError("Request body is too large.")
		}
		return nil, model.NewInvalidError("Failed to read request body.")
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return payload{}, nil
	}

	var p payload
	src := bytes.NewReader(body)
	dec := codec.NewDecoder(src)
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil || p == nil {
		return nil, model.NewInvalidError("Request body must be a JSON object.")
	}
	// オブジェクトの後ろに空白以外が続く場合は不正なボディとして扱う。
	rest, _ := io.ReadAll(io.MultiReader(dec.Buffered(), src))
	if len(bytes.TrimSpace(rest)) > 0 {
		return nil, model.NewInvalidError("Request body must be a single JSON object.")
	}
	return p, nil
}

// has はキーが存在するかを返す（値がnullでも存在とみなす）。
func (p payload) has(key string) bool {
	_, ok := p[key]
	return ok
}

// truthy は値が空でない（null・false・0・空文字列以外）かを返す。
func (p payload) truthy(key string) bool {
	switch v := p[key].(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

// firstTruthy は候補のうち最初に空でない値を持つキーを返す。
func (p payload) firstTruthy(keys ...string) (string, bool) {
	for _, k := range keys {
		if p.truthy(k) {
			return k, true
		}
	}
	return "", false
}

// firstPresent は候補のうち最初にnull以外の値を持つキーを返す。
func (p payload) firstPresent(keys ...string) (string, bool) {
	for _, k := range keys {
		if p[k] != nil {
			return k, true
		}
	}
	return "", false
}

// intValue は値を整数に変換する。
// 整数・小数（0方向に切り捨て）・前後の空白を許す整数文字列を受け付ける。
func (p payload) intValue(key string) (int64, bool) {
	switch v := p[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || math.Abs(f) > math.MaxInt64 {
			return 0, false
		}
		return int64(f), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// stringValue は値を文字列に変換する。文字列と数値のみ受け付ける。
func (p payload) stringValue(key string) (string, bool) {
	switch v := p[key].(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}

// optionalString は文字列フィールドを返す。未指定なら空文字列。
// 文字列以外が指定されている場合はinvalidエラーを返す。
func (p payload) optionalString(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", nil
	}
	s, isString := v.(string)
	if !isString {
		return "", model.NewInvalidFieldError(key, "a string")
	}
	return s, nil
}
