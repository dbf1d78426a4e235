package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/daniacca/membranedb/internal/psystem"
)

// Objects is a multiset literal: object name to multiplicity.
type Objects map[string]int

// SystemBuilder provides a fluent API for building P systems.
// Use it to describe the membrane structure, the initial multisets and the
// evolution rules, then Build a SystemConfig for the server.
type SystemBuilder struct {
	name      string
	model     string
	alphabet  []string
	membranes []psystem.MembraneConfig
	initial   map[int]Objects
	rules     []*RuleBuilder
}

// NewSystem creates a new system builder with the given name.
func NewSystem(name string) *SystemBuilder {
	return &SystemBuilder{
		name:    name,
		initial: make(map[int]Objects),
	}
}

// Model sets the model tag, e.g. "transition".
func (sb *SystemBuilder) Model(model string) *SystemBuilder {
	sb.model = model
	return sb
}

// Alphabet declares objects beyond those appearing in rules and initial
// multisets.
func (sb *SystemBuilder) Alphabet(objs ...string) *SystemBuilder {
	sb.alphabet = append(sb.alphabet, objs...)
	return sb
}

// Skin adds the outermost membrane.
func (sb *SystemBuilder) Skin(id, label int) *SystemBuilder {
	return sb.Membrane(id, label, 0)
}

// Membrane adds a membrane nested in parent. A parent of 0 marks the skin.
func (sb *SystemBuilder) Membrane(id, label, parent int) *SystemBuilder {
	sb.membranes = append(sb.membranes, psystem.MembraneConfig{ID: id, Label: label, Parent: parent})
	return sb
}

// Initial adds objects to the initial multiset of membrane id. Repeated
// calls accumulate.
func (sb *SystemBuilder) Initial(id int, objs Objects) *SystemBuilder {
	m := sb.initial[id]
	if m == nil {
		m = make(Objects)
		sb.initial[id] = m
	}
	for obj, n := range objs {
		m[obj] += n
	}
	return sb
}

// Rule appends rules. Declaration order matters to the simulator.
func (sb *SystemBuilder) Rule(rbs ...*RuleBuilder) *SystemBuilder {
	sb.rules = append(sb.rules, rbs...)
	return sb
}

// Build converts the builder to a SystemConfig that can be used
// with ApplySystem or Client.LoadSystem.
func (sb *SystemBuilder) Build() psystem.SystemConfig {
	cfg := psystem.SystemConfig{
		Name:      sb.name,
		Model:     sb.model,
		Alphabet:  sb.alphabet,
		Membranes: sb.membranes,
		Rules:     make([]psystem.RuleConfig, 0, len(sb.rules)),
	}
	if len(sb.initial) > 0 {
		cfg.Initial = make(map[string]map[string]int, len(sb.initial))
		for id, objs := range sb.initial {
			cfg.Initial[strconv.Itoa(id)] = objs
		}
	}
	for _, rb := range sb.rules {
		cfg.Rules = append(cfg.Rules, rb.Build())
	}
	return cfg
}

// Compile builds and validates the system locally.
func (sb *SystemBuilder) Compile() (*psystem.System, error) {
	return psystem.BuildSystemFromConfig(sb.Build())
}

// RuleBuilder provides a fluent API for building a single evolution rule
// of the form [lhs]'label --> rhs, with a target for the products and an
// optional dissolution.
type RuleBuilder struct {
	cfg psystem.RuleConfig
}

// NewRule starts a rule that applies in membranes with the given label.
func NewRule(label int) *RuleBuilder {
	return &RuleBuilder{cfg: psystem.RuleConfig{
		Label: label,
		LHS:   make(map[string]int),
	}}
}

// Name sets an optional rule name used in error messages.
func (rb *RuleBuilder) Name(name string) *RuleBuilder {
	rb.cfg.Name = name
	return rb
}

// Consume adds n copies of obj to the left-hand side.
func (rb *RuleBuilder) Consume(obj string, n int) *RuleBuilder {
	rb.cfg.LHS[obj] += n
	return rb
}

// Produce adds n copies of obj to the right-hand side.
func (rb *RuleBuilder) Produce(obj string, n int) *RuleBuilder {
	if rb.cfg.RHS == nil {
		rb.cfg.RHS = make(map[string]int)
	}
	rb.cfg.RHS[obj] += n
	return rb
}

// Here keeps the products in the membrane where the rule fires. This is
// the default.
func (rb *RuleBuilder) Here() *RuleBuilder {
	rb.cfg.Target, rb.cfg.TargetLabel, rb.cfg.TargetID = "here", nil, nil
	return rb
}

// Out sends the products to the parent membrane.
func (rb *RuleBuilder) Out() *RuleBuilder {
	rb.cfg.Target, rb.cfg.TargetLabel, rb.cfg.TargetID = "out", nil, nil
	return rb
}

// In sends the products to the first active child with the given label.
func (rb *RuleBuilder) In(label int) *RuleBuilder {
	rb.cfg.Target, rb.cfg.TargetLabel, rb.cfg.TargetID = "in", &label, nil
	return rb
}

// InMembrane sends the products to the child with the given id.
func (rb *RuleBuilder) InMembrane(id int) *RuleBuilder {
	rb.cfg.Target, rb.cfg.TargetLabel, rb.cfg.TargetID = "in", nil, &id
	return rb
}

// Dissolve marks the rule as dissolving its membrane.
func (rb *RuleBuilder) Dissolve() *RuleBuilder {
	rb.cfg.Dissolve = true
	return rb
}

// Priority sets the rule's priority tier; higher tiers are tried first.
func (rb *RuleBuilder) Priority(p int) *RuleBuilder {
	rb.cfg.Priority = p
	return rb
}

// Build converts the builder to a RuleConfig.
func (rb *RuleBuilder) Build() psystem.RuleConfig {
	cfg := rb.cfg
	cfg.LHS = copyObjects(rb.cfg.LHS)
	if rb.cfg.RHS != nil {
		cfg.RHS = copyObjects(rb.cfg.RHS)
	}
	return cfg
}

func copyObjects(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ApplySystem sends the system configuration to a MembraneDB server.
// The baseURL is the server's base URL (e.g., "http://localhost:8080"),
// and envID is the environment the system is loaded into.
func ApplySystem(ctx context.Context, baseURL, envID string, sys *SystemBuilder) error {
	return New(baseURL).LoadSystem(ctx, envID, sys)
}

// Client talks to a MembraneDB server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{baseURL: baseURL, httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

// Configuration is the wire form of a configuration.
type Configuration struct {
	Step      int                       `json:"step"`
	Active    []int                     `json:"active"`
	Multisets map[string]map[string]int `json:"multisets"`
}

// Objects returns the multiset of membrane id, nil if it holds nothing.
func (c Configuration) Objects(id int) Objects {
	return c.Multisets[strconv.Itoa(id)]
}

// StepResult is the response to a step request.
type StepResult struct {
	Report        psystem.StepReport `json:"report"`
	Halted        bool               `json:"halted"`
	Configuration Configuration      `json:"configuration"`
}

// State is the response to a configuration request.
type State struct {
	Configuration Configuration `json:"configuration"`
	Halted        bool          `json:"halted"`
	Running       bool          `json:"running"`
}

// SimulationResult is the response to a simulate request.
type SimulationResult struct {
	RunID  string          `json:"run_id,omitempty"`
	Trace  []Configuration `json:"trace,omitempty"`
	Final  Configuration   `json:"final_config"`
	Steps  int             `json:"steps"`
	Halted bool            `json:"halted"`
}

func (c *Client) url(elem ...string) (string, error) {
	u, err := url.JoinPath(c.baseURL, elem...)
	if err != nil {
		return "", fmt.Errorf("failed to build URL: %w", err)
	}
	return u, nil
}

// do sends a request and decodes a JSON response into out when out is
// non-nil.
func (c *Client) do(ctx context.Context, method, u, contentType string, body []byte, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// LoadSystem creates environment envID, or replaces its system.
func (c *Client) LoadSystem(ctx context.Context, envID string, sys *SystemBuilder) error {
	data, err := json.Marshal(sys.Build())
	if err != nil {
		return fmt.Errorf("failed to marshal system: %w", err)
	}
	u, err := c.url("env", envID, "system")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, u, "application/json", data, nil)
}

// LoadSource is LoadSystem for a program written in the DSL.
func (c *Client) LoadSource(ctx context.Context, envID, src string) error {
	u, err := c.url("env", envID, "system")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, u, "text/plain; charset=utf-8", []byte(src), nil)
}

// Step advances the environment by one step.
func (c *Client) Step(ctx context.Context, envID string) (StepResult, error) {
	var res StepResult
	u, err := c.url("env", envID, "step")
	if err != nil {
		return res, err
	}
	err = c.do(ctx, http.MethodPost, u, "", nil, &res)
	return res, err
}

// State returns the current configuration of the environment.
func (c *Client) State(ctx context.Context, envID string) (State, error) {
	var st State
	u, err := c.url("env", envID, "configuration")
	if err != nil {
		return st, err
	}
	err = c.do(ctx, http.MethodGet, u, "", nil, &st)
	return st, err
}

// Inject adds objects to an active membrane.
func (c *Client) Inject(ctx context.Context, envID string, membrane int, objs Objects) error {
	data, err := json.Marshal(struct {
		Membrane int     `json:"membrane"`
		Objects  Objects `json:"objects"`
	}{membrane, objs})
	if err != nil {
		return err
	}
	u, err := c.url("env", envID, "inject")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, u, "application/json", data, nil)
}

// Simulate runs the environment's system from its initial configuration
// on the server, leaving the environment untouched.
func (c *Client) Simulate(ctx context.Context, envID string, maxSteps int, trace bool) (SimulationResult, error) {
	var res SimulationResult
	u, err := c.url("env", envID, "simulate")
	if err != nil {
		return res, err
	}
	q := url.Values{}
	q.Set("max_steps", strconv.Itoa(maxSteps))
	q.Set("trace", strconv.FormatBool(trace))
	err = c.do(ctx, http.MethodPost, u+"?"+q.Encode(), "", nil, &res)
	return res, err
}

// Reset returns the environment to its initial configuration.
func (c *Client) Reset(ctx context.Context, envID string) error {
	u, err := c.url("env", envID, "reset")
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, u, "", nil, nil)
}

// DeleteEnvironment stops and removes the environment.
func (c *Client) DeleteEnvironment(ctx context.Context, envID string) error {
	u, err := c.url("env", envID)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, u, "", nil, nil)
}

// Environments lists the environment ids known to the server, sorted.
func (c *Client) Environments(ctx context.Context) ([]string, error) {
	var resp struct {
		Environments []string `json:"environments"`
	}
	u, err := c.url("envs")
	if err != nil {
		return nil, err
	}
	if err := c.do(ctx, http.MethodGet, u, "", nil, &resp); err != nil {
		return nil, err
	}
	sort.Strings(resp.Environments)
	return resp.Environments, nil
}
