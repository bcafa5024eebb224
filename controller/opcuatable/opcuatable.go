// Package opcuatable reads and writes controller variables through an OPC UA server, such as
// the one a TwinCAT runtime exposes for its global variable lists.
package opcuatable

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/janvangent1/CHrocodile/logging"
)

// Config holds the OPC UA session parameters and how symbols map onto nodes.
type Config struct {
	Endpoint        string `json:"endpoint"`
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	SecurityMode    string `json:"security_mode,omitempty"`
	SecurityPolicy  string `json:"security_policy,omitempty"`
	ApplicationName string `json:"application_name,omitempty"`
	// Namespace is the namespace index of the controller's symbols.
	Namespace uint16 `json:"namespace"`
	// IntegerType is the node type integers are written as: int16, uint16, int32, uint32 or
	// int64.
	IntegerType string `json:"integer_type,omitempty"`
	// FloatType is float32 for REAL nodes or float64 for LREAL nodes.
	FloatType string `json:"float_type,omitempty"`
	// MaxAge is the oldest cached value the server may answer a read with.
	MaxAge time.Duration `json:"max_age,omitempty"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "chrocodiled"
	}
	if c.Namespace == 0 {
		c.Namespace = 4
	}
	if c.IntegerType == "" {
		c.IntegerType = "uint32"
	}
	if c.FloatType == "" {
		c.FloatType = "float32"
	}
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	switch c.IntegerType {
	case "int16", "uint16", "int32", "uint32", "int64":
	default:
		return errors.Errorf("integer_type %q is not one of int16, uint16, int32, uint32, int64", c.IntegerType)
	}
	switch c.FloatType {
	case "float32", "float64":
	default:
		return errors.Errorf("float_type %q is not float32 or float64", c.FloatType)
	}
	if c.MaxAge < 0 {
		return errors.New("max_age cannot be negative")
	}
	return nil
}

// NodeID returns the string node id of symbol.
func (c *Config) NodeID(symbol string) string {
	return fmt.Sprintf("ns=%d;s=%s", c.Namespace, symbol)
}

// Table is a controller variable table backed by an OPC UA client.
type Table struct {
	cfg    Config
	client *opcua.Client
	logger logging.Logger
}

// Dial connects to the server at cfg.Endpoint.
func Dial(ctx context.Context, cfg Config, logger logging.Logger) (*Table, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := opcua.NewClient(cfg.Endpoint, clientOptions(cfg)...)
	if err != nil {
		return nil, errors.Wrap(err, "opcua new client")
	}
	if err := client.Connect(ctx); err != nil {
		return nil, errors.Wrapf(err, "opcua connect to %s", cfg.Endpoint)
	}
	logger.Infow("connected to controller", "endpoint", cfg.Endpoint, "namespace", cfg.Namespace)
	return &Table{cfg: cfg, client: client, logger: logger}, nil
}

// Close ends the OPC UA session.
func (t *Table) Close(ctx context.Context) error {
	err := t.client.Close(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "opcua close")
	}
	return nil
}

// ReadBool reads a BOOL node.
func (t *Table) ReadBool(ctx context.Context, name string) (bool, error) {
	v, err := t.read(ctx, name)
	if err != nil {
		return false, err
	}
	b, ok := v.Value().(bool)
	if !ok {
		return false, errors.Errorf("%s holds %T, not a boolean", name, v.Value())
	}
	return b, nil
}

// ReadInt reads an integer node of any width.
func (t *Table) ReadInt(ctx context.Context, name string) (int64, error) {
	v, err := t.read(ctx, name)
	if err != nil {
		return 0, err
	}
	i, ok := variantToInt(v)
	if !ok {
		return 0, errors.Errorf("%s holds %T, not an integer", name, v.Value())
	}
	return i, nil
}

// WriteBool writes a BOOL node.
func (t *Table) WriteBool(ctx context.Context, name string, value bool) error {
	return t.write(ctx, name, value)
}

// WriteInt writes an integer node using the configured integer type.
func (t *Table) WriteInt(ctx context.Context, name string, value int64) error {
	v, err := encodeInt(t.cfg.IntegerType, value)
	if err != nil {
		return errors.Wrap(err, name)
	}
	return t.write(ctx, name, v)
}

// WriteFloat writes a REAL or LREAL node using the configured float type.
func (t *Table) WriteFloat(ctx context.Context, name string, value float64) error {
	if t.cfg.FloatType == "float64" {
		return t.write(ctx, name, value)
	}
	return t.write(ctx, name, float32(value))
}

// WriteString writes a STRING node.
func (t *Table) WriteString(ctx context.Context, name, value string) error {
	return t.write(ctx, name, value)
}

func (t *Table) read(ctx context.Context, name string) (*ua.Variant, error) {
	id, err := ua.ParseNodeID(t.cfg.NodeID(name))
	if err != nil {
		return nil, errors.Wrapf(err, "parse node id for %q", name)
	}
	req := &ua.ReadRequest{
		MaxAge:             float64(t.cfg.MaxAge / time.Millisecond),
		NodesToRead:        []*ua.ReadValueID{{NodeID: id, AttributeID: ua.AttributeIDValue}},
		TimestampsToReturn: ua.TimestampsToReturnNeither,
	}
	resp, err := t.client.Read(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	if len(resp.Results) == 0 {
		return nil, errors.Errorf("read %s: empty result", name)
	}
	result := resp.Results[0]
	if result.Status != ua.StatusOK {
		return nil, statusError("read", name, result.Status)
	}
	if result.Value == nil {
		return nil, errors.Errorf("read %s: no value", name)
	}
	return result.Value, nil
}

func (t *Table) write(ctx context.Context, name string, value interface{}) error {
	id, err := ua.ParseNodeID(t.cfg.NodeID(name))
	if err != nil {
		return errors.Wrapf(err, "parse node id for %q", name)
	}
	variant, err := ua.NewVariant(value)
	if err != nil {
		return errors.Wrapf(err, "encode %s", name)
	}
	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		}},
	}
	resp, err := t.client.Write(ctx, req)
	if err != nil {
		var code ua.StatusCode
		if errors.As(err, &code) {
			return statusError("write", name, code)
		}
		return errors.Wrapf(err, "write %s", name)
	}
	var errs error
	for _, status := range resp.Results {
		if status != ua.StatusOK {
			errs = multierr.Append(errs, statusError("write", name, status))
		}
	}
	return errs
}

// statusError reports a bad status. Server side timeouts wrap context.DeadlineExceeded so
// callers treat them like a local write timeout.
func statusError(op, name string, status ua.StatusCode) error {
	switch status {
	case ua.StatusBadTimeout, ua.StatusBadRequestTimeout:
		return errors.Wrapf(context.DeadlineExceeded, "%s %s: %s", op, name, status)
	default:
		return errors.Errorf("%s %s: %s", op, name, status)
	}
}

func clientOptions(cfg Config) []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(cfg.SecurityMode)),
		opcua.SecurityPolicy(cfg.SecurityPolicy),
		opcua.ApplicationName(cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "sign_and_encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func encodeInt(kind string, v int64) (interface{}, error) {
	switch kind {
	case "int16":
		if v < -1<<15 || v > 1<<15-1 {
			return nil, errors.Errorf("%d overflows int16", v)
		}
		return int16(v), nil
	case "uint16":
		if v < 0 || v > 1<<16-1 {
			return nil, errors.Errorf("%d overflows uint16", v)
		}
		return uint16(v), nil
	case "int32":
		if v < -1<<31 || v > 1<<31-1 {
			return nil, errors.Errorf("%d overflows int32", v)
		}
		return int32(v), nil
	case "uint32":
		if v < 0 || v > 1<<32-1 {
			return nil, errors.Errorf("%d overflows uint32", v)
		}
		return uint32(v), nil
	case "int64":
		return v, nil
	default:
		return nil, errors.Errorf("unknown integer type %q", kind)
	}
}

func variantToInt(v *ua.Variant) (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case int8:
		return int64(val), true
	case uint8:
		return int64(val), true
	case int16:
		return int64(val), true
	case uint16:
		return int64(val), true
	case int32:
		return int64(val), true
	case uint32:
		return int64(val), true
	case int64:
		return val, true
	case uint64:
		return int64(val), true
	default:
		return 0, false
	}
}
