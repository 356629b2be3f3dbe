package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/fatrocu/internal/invoice"
)

const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel       = "gemini-2.5-flash"
	DefaultTemperature = 0.2
	defaultTimeout     = 120 * time.Second
)

// Gemini calls a generateContent-style model API with the document inlined
// and a response schema derived from the document config.
type Gemini struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

// GeminiOption customises a Gemini client.
type GeminiOption func(*Gemini)

// WithBaseURL points the client at a different endpoint (used by tests).
func WithBaseURL(u string) GeminiOption {
	return func(g *Gemini) { g.baseURL = strings.TrimRight(u, "/") }
}

// WithModel selects the model name.
func WithModel(m string) GeminiOption {
	return func(g *Gemini) {
		if m != "" {
			g.model = m
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GeminiOption {
	return func(g *Gemini) { g.temperature = t }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.httpClient = c }
}

// NewGemini creates a client authenticating with apiKey.
func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		temperature: DefaultTemperature,
		httpClient:  &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type genRequest struct {
	Contents         []genContent `json:"contents"`
	GenerationConfig genConfig    `json:"generationConfig"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type genConfig struct {
	ResponseMIMEType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
	Temperature      float64        `json:"temperature"`
}

type genResponse struct {
	Candidates []struct {
		Content      genContent `json:"content"`
		FinishReason string     `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Extract sends the document to the service and parses the structured reply.
func (g *Gemini) Extract(ctx context.Context, req Request) (Result, error) {
	if g.apiKey == "" {
		return Result{}, &ExtractionError{Message: "extraction service API key is not configured"}
	}

	body, err := json.Marshal(genRequest{
		Contents: []genContent{{
			Role: "user",
			Parts: []genPart{
				{InlineData: &inlineData{MIMEType: req.MIMEType, Data: base64.StdEncoding.EncodeToString(req.Data)}},
				{Text: prompt(req.Config)},
			},
		}},
		GenerationConfig: genConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   ResponseSchema(req.Config),
			Temperature:      g.temperature,
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, extractionErr(err, "extraction service unreachable: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, extractionErr(err, "reading extraction response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, statusError(resp, respBody)
	}

	var gr genResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return Result{}, extractionErr(err, "decoding extraction response: %v", err)
	}
	if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
		return Result{}, &ExtractionError{Message: "document was blocked by the extraction service: " + gr.PromptFeedback.BlockReason}
	}
	if len(gr.Candidates) == 0 {
		return Result{}, &ExtractionError{Message: "extraction service returned no result"}
	}

	var text strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if text.Len() == 0 {
		return Result{}, &ExtractionError{Message: "extraction service returned an empty result (finish reason " + gr.Candidates[0].FinishReason + ")"}
	}

	return ParseResponse(req.Config, []byte(text.String()))
}

func statusError(resp *http.Response, body []byte) error {
	var ae apiError
	_ = json.Unmarshal(body, &ae)
	msg := ae.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}

	if resp.StatusCode == http.StatusTooManyRequests || ae.Error.Status == "RESOURCE_EXHAUSTED" {
		return &RateLimitError{
			Status:     resp.StatusCode,
			Message:    msg,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		strings.Contains(strings.ToLower(msg), "api key") {
		return &ExtractionError{Message: "extraction service API key is invalid or missing: " + msg}
	}
	return &ExtractionError{Message: fmt.Sprintf("extraction service error (HTTP %d): %s", resp.StatusCode, msg)}
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func prompt(cfg invoice.Config) string {
	return fmt.Sprintf("This is a %q document. Analyse the file and extract the data matching the JSON schema. "+
		"For every field return both the text value ('value') and the polygon enclosing that text on the document ('boundingPoly'). "+
		"Polygon coordinates are normalized so the top-left corner is (0,0) and the bottom-right corner is (1,1). "+
		"If a field or its location cannot be found, leave it empty or null.", cfg.Name)
}

type rawGrounded struct {
	Value        any             `json:"value"`
	BoundingPoly []invoice.Point `json:"boundingPoly"`
	Box          *invoice.Box    `json:"box"`
}

// ParseResponse validates a structured reply and converts it to a Result
// restricted to cfg's keys.
func ParseResponse(cfg invoice.Config, data []byte) (Result, error) {
	if err := validateResponse(cfg, data); err != nil {
		return Result{}, extractionErr(err, "extraction response is malformed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, extractionErr(err, "extraction response is malformed: %v", err)
	}

	res := Result{Fields: invoice.Fields{}}
	for _, f := range cfg.Fields {
		v, err := decodeGrounded(raw[f.Key])
		if err != nil {
			return Result{}, extractionErr(err, "field %s: %v", f.Key, err)
		}
		res.Fields[f.Key] = v
	}

	if rows, ok := raw[lineItemsKey]; ok && len(cfg.LineItemFields) > 0 {
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(rows, &items); err != nil {
			return Result{}, extractionErr(err, "line items: %v", err)
		}
		for _, item := range items {
			row := invoice.Fields{}
			for _, f := range cfg.LineItemFields {
				v, err := decodeGrounded(item[f.Key])
				if err != nil {
					return Result{}, extractionErr(err, "line item field %s: %v", f.Key, err)
				}
				row[f.Key] = v
			}
			res.LineItems = append(res.LineItems, row)
		}
	}
	return Normalize(cfg, res), nil
}

func decodeGrounded(msg json.RawMessage) (invoice.GroundedValue, error) {
	if len(msg) == 0 || string(msg) == "null" {
		return invoice.GroundedValue{}, nil
	}
	var r rawGrounded
	if err := json.Unmarshal(msg, &r); err != nil {
		return invoice.GroundedValue{}, err
	}

	var gv invoice.GroundedValue
	switch v := r.Value.(type) {
	case string:
		gv.Value = strings.TrimSpace(v)
	case float64:
		gv.Value = strconv.FormatFloat(v, 'f', -1, 64)
	}

	switch {
	case len(r.BoundingPoly) > 0:
		gv.Location = &invoice.Region{Polygon: normalizePoints(r.BoundingPoly)}
	case r.Box != nil:
		gv.Location = &invoice.Region{Box: normalizeBox(*r.Box)}
	}
	// A region without area cannot be highlighted.
	if gv.Location != nil {
		if b, ok := gv.Location.Bounds(); !ok || b.XMax <= b.XMin || b.YMax <= b.YMin {
			gv.Location = nil
		}
	}
	return gv, nil
}

// normalizePoints maps coordinates into [0,1]. Services sometimes answer on
// a 0..1000 grid instead of unit coordinates.
func normalizePoints(pts []invoice.Point) []invoice.Point {
	var maxCoord float64
	for _, p := range pts {
		maxCoord = math.Max(maxCoord, math.Max(p.X, p.Y))
	}
	scale := 1.0
	if maxCoord > 1 && maxCoord <= 1000 {
		scale = 1000
	}
	out := make([]invoice.Point, len(pts))
	for i, p := range pts {
		out[i] = invoice.Point{X: clamp01(p.X / scale), Y: clamp01(p.Y / scale)}
	}
	return out
}

// normalizeBox scales and clamps a box the same way as polygon vertices.
func normalizeBox(b invoice.Box) *invoice.Box {
	pts := normalizePoints([]invoice.Point{{X: b.XMin, Y: b.YMin}, {X: b.XMax, Y: b.YMax}})
	return &invoice.Box{XMin: pts[0].X, YMin: pts[0].Y, XMax: pts[1].X, YMax: pts[1].Y}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

var _ Extractor = (*Gemini)(nil)
