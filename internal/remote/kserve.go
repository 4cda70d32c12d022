package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"mlserve/pkg/types"
)

// Params consumed by KServeBackend rather than forwarded to the server.
const (
	ParamDatatype = "datatype"
	ParamShape    = "shape"
)

// KServeConfig configures a KServeBackend.
type KServeConfig struct {
	BaseURL          string
	InputName        string
	TextOutput       string
	ConfidenceOutput string
	ArtifactOutput   string
	ConnectTimeout   time.Duration
}

// KServeBackend speaks the KServe v2 / Triton HTTP JSON inference protocol.
type KServeBackend struct {
	cfg        KServeConfig
	httpClient *http.Client
}

// NewKServeBackend returns a backend for cfg.BaseURL.
func NewKServeBackend(cfg KServeConfig) *KServeBackend {
	if cfg.InputName == "" {
		cfg.InputName = "audio_input"
	}
	if cfg.TextOutput == "" {
		cfg.TextOutput = "transcription"
	}
	if cfg.ConfidenceOutput == "" {
		cfg.ConfidenceOutput = "confidence"
	}
	if cfg.ArtifactOutput == "" {
		cfg.ArtifactOutput = "artifact"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline from Client.
	return &KServeBackend{cfg: cfg, httpClient: &http.Client{Transport: tr, Timeout: 0}}
}

type inferTensor struct {
	Name       string         `json:"name"`
	Shape      []int64        `json:"shape"`
	Datatype   string         `json:"datatype"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Data       []any          `json:"data"`
}

type requestedOutput struct {
	Name string `json:"name"`
}

type inferRequest struct {
	Inputs     []inferTensor     `json:"inputs"`
	Outputs    []requestedOutput `json:"outputs,omitempty"`
	Parameters map[string]any    `json:"parameters,omitempty"`
}

type outputTensor struct {
	Name     string            `json:"name"`
	Datatype string            `json:"datatype"`
	Shape    []int64           `json:"shape"`
	Data     []json.RawMessage `json:"data"`
}

type inferResponse struct {
	ModelName    string         `json:"model_name"`
	ModelVersion string         `json:"model_version"`
	Outputs      []outputTensor `json:"outputs"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (b *KServeBackend) modelURL(model, version string) string {
	u := b.cfg.BaseURL + "/v2/models/" + url.PathEscape(model)
	if version != "" {
		u += "/versions/" + url.PathEscape(version)
	}
	return u
}

// Infer posts one request and maps named outputs onto a Result.
func (b *KServeBackend) Infer(ctx context.Context, req Request) (types.Result, error) {
	tensor, err := encodeInput(b.cfg.InputName, req.Input, req.Params)
	if err != nil {
		return types.Result{}, err
	}
	payload := inferRequest{
		Inputs: []inferTensor{tensor},
		Outputs: []requestedOutput{
			{Name: b.cfg.TextOutput},
			{Name: b.cfg.ConfidenceOutput},
		},
		Parameters: forwardedParams(req.Params),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return types.Result{}, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.modelURL(req.Model, req.Version)+"/infer", bytes.NewReader(body))
	if err != nil {
		return types.Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return types.Result{}, ctx.Err()
		}
		return types.Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.Result{}, readBackendError(resp)
	}
	var out inferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.Result{}, fmt.Errorf("decode response: %w", err)
	}
	return b.mapOutputs(out)
}

// Ready reports whether the server has model loaded.
func (b *KServeBackend) Ready(ctx context.Context, model string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.modelURL(model, "")+"/ready", nil)
	if err != nil {
		return err
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readBackendError(resp)
	}
	return nil
}

func readBackendError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var er errorResponse
	msg := strings.TrimSpace(string(b))
	if json.Unmarshal(b, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	if msg == "" {
		msg = resp.Status
	}
	return &BackendError{Status: resp.StatusCode, Message: msg}
}

// encodeInput builds the input tensor. With datatype FP32 the bytes are
// little-endian float32 values; otherwise they are sent as one BYTES
// element, base64-encoded when not valid UTF-8.
func encodeInput(name string, input []byte, params types.Params) (inferTensor, error) {
	dt, _ := params.String(ParamDatatype)
	switch strings.ToUpper(dt) {
	case "FP32":
		if len(input)%4 != 0 {
			return inferTensor{}, fmt.Errorf("FP32 input length %d is not a multiple of 4", len(input))
		}
		n := len(input) / 4
		data := make([]any, n)
		for i := 0; i < n; i++ {
			data[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
		}
		shape, err := shapeParam(params, int64(n))
		if err != nil {
			return inferTensor{}, err
		}
		return inferTensor{Name: name, Shape: shape, Datatype: "FP32", Data: data}, nil
	case "", "BYTES":
		t := inferTensor{Name: name, Shape: []int64{1}, Datatype: "BYTES"}
		if utf8.Valid(input) {
			t.Data = []any{string(input)}
		} else {
			t.Data = []any{base64.StdEncoding.EncodeToString(input)}
			t.Parameters = map[string]any{"content_type": "base64"}
		}
		return t, nil
	default:
		return inferTensor{}, fmt.Errorf("unsupported input datatype %q", dt)
	}
}

func shapeParam(params types.Params, elems int64) ([]int64, error) {
	raw, ok := params[ParamShape]
	if !ok {
		return []int64{1, elems}, nil
	}
	var dims []int64
	switch v := raw.(type) {
	case []int64:
		dims = v
	case []int:
		for _, d := range v {
			dims = append(dims, int64(d))
		}
	case []any:
		for _, d := range v {
			f, ok := d.(float64)
			if !ok {
				if i, isInt := d.(int); isInt {
					f = float64(i)
				} else {
					return nil, fmt.Errorf("shape element %v is not a number", d)
				}
			}
			dims = append(dims, int64(f))
		}
	default:
		return nil, fmt.Errorf("shape must be a list of integers")
	}
	prod := int64(1)
	for _, d := range dims {
		prod *= d
	}
	if prod != elems {
		return nil, fmt.Errorf("shape %v holds %d elements, input has %d", dims, prod, elems)
	}
	return dims, nil
}

func forwardedParams(params types.Params) map[string]any {
	out := map[string]any{}
	for k, v := range params {
		if k == ParamDatatype || k == ParamShape {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (b *KServeBackend) mapOutputs(resp inferResponse) (types.Result, error) {
	var res types.Result
	for _, o := range resp.Outputs {
		if len(o.Data) == 0 {
			continue
		}
		switch o.Name {
		case b.cfg.TextOutput:
			if err := json.Unmarshal(o.Data[0], &res.Text); err != nil {
				return res, fmt.Errorf("output %s: %w", o.Name, err)
			}
		case b.cfg.ConfidenceOutput:
			if err := json.Unmarshal(o.Data[0], &res.Confidence); err != nil {
				return res, fmt.Errorf("output %s: %w", o.Name, err)
			}
		case b.cfg.ArtifactOutput:
			var s string
			if err := json.Unmarshal(o.Data[0], &s); err != nil {
				return res, fmt.Errorf("output %s: %w", o.Name, err)
			}
			if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
				res.Artifact = raw
			} else {
				res.Artifact = []byte(s)
			}
			res.ContentType = "application/octet-stream"
		default:
			if res.Meta == nil {
				res.Meta = map[string]any{}
			}
			var vals []any
			for _, d := range o.Data {
				var v any
				if err := json.Unmarshal(d, &v); err != nil {
					return res, fmt.Errorf("output %s: %w", o.Name, err)
				}
				vals = append(vals, v)
			}
			if len(vals) == 1 {
				res.Meta[o.Name] = vals[0]
			} else {
				res.Meta[o.Name] = vals
			}
		}
	}
	if resp.ModelVersion != "" {
		if res.Meta == nil {
			res.Meta = map[string]any{}
		}
		res.Meta["model_version"] = resp.ModelVersion
	}
	return res, nil
}
