package admin

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c360/udprelay/errors"
	"github.com/c360/udprelay/health"
	"github.com/c360/udprelay/relay"
)

// neverForwarded is shown for routes with no forward in the current generation.
const neverForwarded = "Never"

const dashboardPath = "/admin/dashboard"

type dashboardView struct {
	Generation relay.GenerationInfo
	Active     bool
	Health     health.Status
	Inputs     []inputView
	Flash      string
	FlashError bool
}

type inputView struct {
	Name        string
	Port        uint16
	Outputs     []outputView
	OutputLines string
	Counters    relay.ListenerCounters
}

type outputView struct {
	Index       int
	Destination string
	LastForward string
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, dashboardPath, http.StatusSeeOther)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.renderDashboard(w, http.StatusOK, r.URL.Query().Get("msg"), false)
}

func (s *Server) renderDashboard(w http.ResponseWriter, code int, flash string, isError bool) {
	view := s.buildView()
	view.Flash = flash
	view.FlashError = isError

	var buf bytes.Buffer
	if err := s.dashboard.ExecuteTemplate(&buf, "dashboard.html", view); err != nil {
		s.logger.Error("Failed to render dashboard", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

func (s *Server) buildView() dashboardView {
	current := s.relay.View()
	table, stats, counters := current.Table, current.Stats, current.Counters

	view := dashboardView{
		Generation: current.Generation,
		Active:     current.Active,
		Health:     s.relay.Health(),
	}
	for _, name := range table.Inputs() {
		spec, _ := table.Input(name)
		in := inputView{Name: name, Port: spec.Port, Counters: counters[name]}
		lines := make([]string, 0, len(spec.Outputs))
		for i, dest := range spec.Outputs {
			last := neverForwarded
			if ts, ok := stats.LastForward(name, dest); ok {
				last = ts.Local().Format(time.DateTime)
			}
			in.Outputs = append(in.Outputs, outputView{Index: i, Destination: dest.String(), LastForward: last})
			lines = append(lines, dest.String())
		}
		in.OutputLines = strings.Join(lines, "\n")
		view.Inputs = append(view.Inputs, in)
	}
	return view
}

// finishForm redirects on success or re-renders the dashboard with the error.
func (s *Server) finishForm(w http.ResponseWriter, r *http.Request, action string, changed bool, err error) {
	if err != nil {
		s.logger.Warn("Admin edit rejected", "action", action, "error", err,
			"class", errors.Classify(err).String(), "request_id", RequestID(r.Context()))
		s.renderDashboard(w, statusFor(err), err.Error(), true)
		return
	}
	target := dashboardPath
	if !changed {
		target += "?msg=" + "No+changes"
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return false
	}
	return true
}

// handleAddOutput appends host:port to an input's destination list.
func (s *Server) handleAddOutput(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	input := strings.TrimSpace(r.PostFormValue("input"))
	host := strings.TrimSpace(r.PostFormValue("host"))
	port := strings.TrimSpace(r.PostFormValue("port"))

	changed, err := s.apply(r.Context(), func(raw []relay.RawInput) ([]relay.RawInput, error) {
		i, err := findInput(raw, input)
		if err != nil {
			return nil, err
		}
		if host == "" {
			return nil, invalidForm("host is required")
		}
		raw[i].Outputs = append(raw[i].Outputs, net.JoinHostPort(host, port))
		return raw, nil
	})
	s.finishForm(w, r, "add_output", changed, err)
}

// handleRemoveOutput drops the destination at index. An out-of-range index is a no-op.
func (s *Server) handleRemoveOutput(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	input := strings.TrimSpace(r.PostFormValue("input"))
	index, convErr := strconv.Atoi(strings.TrimSpace(r.PostFormValue("index")))

	changed, err := s.apply(r.Context(), func(raw []relay.RawInput) ([]relay.RawInput, error) {
		i, err := findInput(raw, input)
		if err != nil {
			return nil, err
		}
		if convErr != nil {
			return nil, invalidForm("index must be an integer")
		}
		outs := raw[i].Outputs
		if index >= 0 && index < len(outs) {
			raw[i].Outputs = append(outs[:index:index], outs[index+1:]...)
		}
		return raw, nil
	})
	s.finishForm(w, r, "remove_output", changed, err)
}

// handleApply replaces one input's port and destination list from the form.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	input := strings.TrimSpace(r.PostFormValue("input"))
	portStr := strings.TrimSpace(r.PostFormValue("port"))
	outputs := relay.ParseDestinationLines(r.PostFormValue("outputs"))

	changed, err := s.apply(r.Context(), func(raw []relay.RawInput) ([]relay.RawInput, error) {
		i, err := findInput(raw, input)
		if err != nil {
			return nil, err
		}
		port, err := parsePort(portStr)
		if err != nil {
			return nil, err
		}
		raw[i].Port = port
		raw[i].Outputs = outputs
		return raw, nil
	})
	s.finishForm(w, r, "apply", changed, err)
}

// handleAddInput creates a new input.
func (s *Server) handleAddInput(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	name := strings.TrimSpace(r.PostFormValue("input"))
	portStr := strings.TrimSpace(r.PostFormValue("port"))
	outputs := relay.ParseDestinationLines(r.PostFormValue("outputs"))

	changed, err := s.apply(r.Context(), func(raw []relay.RawInput) ([]relay.RawInput, error) {
		if _, err := findInput(raw, name); err == nil {
			return nil, invalidForm(fmt.Sprintf("input %q already exists", name))
		}
		port, err := parsePort(portStr)
		if err != nil {
			return nil, err
		}
		return append(raw, relay.RawInput{Name: name, Port: port, Outputs: outputs}), nil
	})
	s.finishForm(w, r, "add_input", changed, err)
}

// handleRemoveInput deletes an input and closes its port.
func (s *Server) handleRemoveInput(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}
	name := strings.TrimSpace(r.PostFormValue("input"))

	changed, err := s.apply(r.Context(), func(raw []relay.RawInput) ([]relay.RawInput, error) {
		i, err := findInput(raw, name)
		if err != nil {
			return nil, err
		}
		return append(raw[:i:i], raw[i+1:]...), nil
	})
	s.finishForm(w, r, "remove_input", changed, err)
}

func findInput(raw []relay.RawInput, name string) (int, error) {
	for i := range raw {
		if raw[i].Name == name {
			return i, nil
		}
	}
	return -1, invalidForm(fmt.Sprintf("unknown input %q", name))
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalidForm(fmt.Sprintf("port %q is not a number", s))
	}
	return port, nil
}

func invalidForm(msg string) error {
	return errors.WrapInvalid(errors.Validationf("%s", msg), "admin.Server", "form", "form validation")
}
