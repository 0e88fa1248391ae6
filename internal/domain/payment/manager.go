package payment

import (
	"strings"

	"github.com/go-faster/errors"
)

// Manager resolves gateways by payment method and by provider name.
type Manager struct {
	byMethod map[Method]Gateway
	byName   map[string]Gateway
}

// NewManager registers gateways per payment method.
func NewManager(gateways map[Method]Gateway) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("at least one gateway is required")
	}
	m := &Manager{
		byMethod: make(map[Method]Gateway, len(gateways)),
		byName:   make(map[string]Gateway, len(gateways)),
	}
	for method, g := range gateways {
		if !method.Valid() || g == nil {
			return nil, errors.Errorf("invalid gateway registration for %q", method)
		}
		m.byMethod[method] = g
		m.byName[strings.ToLower(g.Name())] = g
	}
	return m, nil
}

// For returns the gateway serving method.
func (m *Manager) For(method Method) (Gateway, error) {
	g, ok := m.byMethod[method]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "%q", method)
	}
	return g, nil
}

// ByName returns the gateway registered under a provider name.
func (m *Manager) ByName(name string) (Gateway, error) {
	g, ok := m.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedMethod, "provider %q", name)
	}
	return g, nil
}
