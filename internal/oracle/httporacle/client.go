// Package httporacle talks to an out-of-process LP/NLP solver service over
// JSON/HTTP. The service exposes POST /lp, /nlp and /variability.
package httporacle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"metaflux/internal/model"
	"metaflux/internal/oracle"
)

const DefaultTimeout = 30 * time.Minute

var ErrSolverService = errors.New("solver service error")

// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var (
	_ oracle.Solver              = (*Client)(nil)
	_ oracle.VariabilityAnalyzer = (*Client)(nil)
)

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

type lpPayload struct {
	Model         *model.Model      `json:"model"`
	Objective     model.Objective   `json:"objective"`
	Sense         model.Sense       `json:"sense"`
	Enzyme        bool              `json:"with_enzyme_constraints"`
	Thermo        bool              `json:"with_thermodynamic_constraints"`
	Loop          bool              `json:"with_loop_constraints"`
	Variability   model.Variability `json:"variability_dict,omitempty"`
	Ignored       []string          `json:"ignored_reacs,omitempty"`
	ErrorScenario []string          `json:"error_scenario,omitempty"`
	Extension     *oracle.Extension `json:"extension,omitempty"`
}

type nlpPayload struct {
	Model         *model.Model       `json:"model"`
	Objective     model.Objective    `json:"objective"`
	Sense         model.Sense        `json:"sense"`
	ActiveSeed    map[string]float64 `json:"variability_data_or_seed"`
	Variability   model.Variability  `json:"variability_dict,omitempty"`
	Kinetics      oracle.Kinetics    `json:"kinetics"`
	ErrorScenario []string           `json:"error_scenario,omitempty"`
}

type variabilityPayload struct {
	Model  *model.Model `json:"model"`
	Enzyme bool         `json:"with_enzyme_constraints"`
	Thermo bool         `json:"with_thermodynamic_constraints"`
}

func (c *Client) SolveLP(ctx context.Context, req oracle.LPRequest) (model.Result, error) {
	body, err := c.post(ctx, "/lp", lpPayload{
		Model:         req.Model,
		Objective:     req.Objective,
		Sense:         req.Sense,
		Enzyme:        req.Enzyme,
		Thermo:        req.Thermo,
		Loop:          req.Loop,
		Variability:   req.Variability,
		Ignored:       req.Ignored,
		ErrorScenario: req.ErrorScenario,
		Extension:     req.Extension,
	})
	if err != nil {
		return model.Result{}, err
	}
	return decodeResult(body)
}

func (c *Client) SolveNLP(ctx context.Context, req oracle.NLPRequest) (model.Result, error) {
	body, err := c.post(ctx, "/nlp", nlpPayload{
		Model:         req.Model,
		Objective:     req.Objective,
		Sense:         req.Sense,
		ActiveSeed:    req.ActiveSeed.Values,
		Variability:   req.Variability,
		Kinetics:      req.Kinetics,
		ErrorScenario: req.ErrorScenario,
	})
	if err != nil {
		return model.Result{}, err
	}
	return decodeResult(body)
}

func (c *Client) Variability(ctx context.Context, m *model.Model, enzyme, thermo bool) (model.Variability, error) {
	body, err := c.post(ctx, "/variability", variabilityPayload{Model: m, Enzyme: enzyme, Thermo: thermo})
	if err != nil {
		return nil, err
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrSolverService, msg.String())
	}
	out := model.Variability{}
	var parseErr error
	gjson.GetBytes(body, "variability").ForEach(func(key, value gjson.Result) bool {
		pair := value.Array()
		if len(pair) != 2 {
			parseErr = fmt.Errorf("variability entry %s: expected [min,max]", key.String())
			return false
		}
		out[key.String()] = model.Range{Min: pair[0].Float(), Max: pair[1].Float()}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrSolverService, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// decodeResult accepts {"all_ok":bool,"values":{...}} or {"error":"..."}.
func decodeResult(body []byte) (model.Result, error) {
	if !gjson.ValidBytes(body) {
		return model.Result{}, fmt.Errorf("%w: invalid json response", ErrSolverService)
	}
	if msg := gjson.GetBytes(body, "error"); msg.Exists() {
		return model.Result{}, fmt.Errorf("%w: %s", ErrSolverService, msg.String())
	}
	out := model.Result{
		AllOK:  gjson.GetBytes(body, "all_ok").Bool(),
		Values: map[string]float64{},
	}
	gjson.GetBytes(body, "values").ForEach(func(key, value gjson.Result) bool {
		out.Values[key.String()] = value.Float()
		return true
	})
	return out, nil
}
