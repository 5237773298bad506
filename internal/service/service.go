// Package service is the registration surface: each service declares its
// methods, their verb, URI and whether they reply, up front and explicitly.
package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Func executes one method call against a bound service.
type Func func(ctx context.Context, args []any) (any, error)

// Method describes one callable method of a service.
type Method struct {
	Name string
	// Verb is GET or POST. Empty means GET.
	Verb string
	// URI is the method fragment under the service sub-URI. Empty means
	// "/<Name>". A "{param}" template suffix is cut to its literal prefix.
	URI          string
	ExpectsReply bool
	Invoke       Func
}

// Definition binds a service name to its methods and event listeners.
type Definition struct {
	Name string
	// SubURI is the per-service path segment. Empty means "/<name>".
	SubURI    string
	Methods   []Method
	Listeners map[string]Func

	methods map[string]*Method
}

// Validate checks the definition and builds its method index. It must be
// called once before the definition is bound to a queue.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("service name is empty")
	}
	d.methods = make(map[string]*Method, len(d.Methods))
	for i := range d.Methods {
		m := &d.Methods[i]
		if m.Name == "" {
			return fmt.Errorf("service %s: method[%d] has no name", d.Name, i)
		}
		if m.Invoke == nil {
			return fmt.Errorf("service %s: method %s has no implementation", d.Name, m.Name)
		}
		switch strings.ToUpper(m.Verb) {
		case "":
			m.Verb = http.MethodGet
		case http.MethodGet, http.MethodPost:
			m.Verb = strings.ToUpper(m.Verb)
		default:
			return fmt.Errorf("service %s: method %s: unsupported verb %q", d.Name, m.Name, m.Verb)
		}
		if _, dup := d.methods[m.Name]; dup {
			return fmt.Errorf("service %s: duplicate method %s", d.Name, m.Name)
		}
		d.methods[m.Name] = m
	}
	for ch, fn := range d.Listeners {
		if fn == nil {
			return fmt.Errorf("service %s: listener for channel %s has no implementation", d.Name, ch)
		}
	}
	return nil
}

// Method returns the method registered under name.
func (d *Definition) Method(name string) (*Method, bool) {
	m, ok := d.methods[name]
	return m, ok
}

// Listener returns the function registered for an event channel.
func (d *Definition) Listener(channel string) (Func, bool) {
	fn, ok := d.Listeners[channel]
	return fn, ok
}

// Channels lists the event channels this service listens on.
func (d *Definition) Channels() []string {
	out := make([]string, 0, len(d.Listeners))
	for ch := range d.Listeners {
		out = append(out, ch)
	}
	return out
}

// ServiceURI returns the sub-URI for the service.
func (d *Definition) ServiceURI() string {
	if d.SubURI != "" {
		return d.SubURI
	}
	return "/" + uncapitalize(d.Name)
}

// MethodURI returns the method fragment, with any path template removed.
func (m *Method) MethodURI() string {
	uri := m.URI
	if uri == "" {
		return "/" + m.Name
	}
	if i := strings.IndexByte(uri, '{'); i >= 0 {
		uri = uri[:i]
	}
	return uri
}

func uncapitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
