// Package demo holds the employee hiring services that `system start`
// mounts when demo services are enabled. Hiring publishes on the bus, and
// payroll and benefits react to those events on their own queues.
package demo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/mattjoyce/switchyard/internal/eventbus"
	"github.com/mattjoyce/switchyard/internal/log"
	"github.com/mattjoyce/switchyard/internal/service"
)

// Event channels.
const (
	NewHireChannel = "employee.new"
	SalaryChannel  = "employee.salary"
)

const outboxLimit = 100

// Employee is the payload of both channels.
type Employee struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Salary float64 `json:"salary"`
}

// Unit is a service definition plus the hook its queue calls at batch
// boundaries.
type Unit struct {
	Definition *service.Definition
	Flush      func()
}

// Units builds the demo services against bus.
func Units(bus *eventbus.Bus, logger *slog.Logger) []Unit {
	if logger == nil {
		logger = log.WithComponent("demo")
	}
	hiring := &hiringService{outbox: eventbus.NewOutbox(bus, "Employee", outboxLimit), logger: logger}
	payroll := &payrollService{salaries: make(map[int]float64)}
	benefits := &benefitsService{}
	noop := func() {}
	return []Unit{
		{Definition: hiring.definition(), Flush: hiring.flush},
		{Definition: payroll.definition(), Flush: noop},
		{Definition: benefits.definition(), Flush: noop},
	}
}

// Methods of every service run on that service's queue goroutine, so the
// state below is never touched concurrently.

type hiringService struct {
	outbox *eventbus.Outbox
	logger *slog.Logger
	nextID int
	staff  map[int]Employee
}

func (h *hiringService) definition() *service.Definition {
	return &service.Definition{
		Name: "Employee",
		Methods: []service.Method{
			{Name: "hire", Verb: http.MethodPost, ExpectsReply: true, Invoke: h.hire},
			{Name: "raise", Verb: http.MethodPost, Invoke: h.raise},
			{Name: "count", ExpectsReply: true, Invoke: h.count},
		},
	}
}

// hire takes [name, salary].
func (h *hiringService) hire(_ context.Context, args []any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("hire takes a name and a salary, got %d args", len(args))
	}
	name, err := stringArg(args, 0)
	if err != nil {
		return nil, err
	}
	salary, err := numberArg(args, 1)
	if err != nil {
		return nil, err
	}
	if h.staff == nil {
		h.staff = make(map[int]Employee)
	}
	h.nextID++
	emp := Employee{ID: h.nextID, Name: name, Salary: salary}
	h.staff[emp.ID] = emp

	if err := h.outbox.Send(NewHireChannel, emp); err != nil {
		return nil, err
	}
	if err := h.outbox.Send(SalaryChannel, emp); err != nil {
		return nil, err
	}
	return emp, nil
}

// raise takes [id, salary].
func (h *hiringService) raise(_ context.Context, args []any) (any, error) {
	id, err := numberArg(args, 0)
	if err != nil {
		return nil, err
	}
	salary, err := numberArg(args, 1)
	if err != nil {
		return nil, err
	}
	emp, ok := h.staff[int(id)]
	if !ok {
		return nil, fmt.Errorf("no employee with id %d", int(id))
	}
	emp.Salary = salary
	h.staff[emp.ID] = emp
	return nil, h.outbox.Send(SalaryChannel, emp)
}

func (h *hiringService) count(context.Context, []any) (any, error) {
	return len(h.staff), nil
}

func (h *hiringService) flush() {
	if err := h.outbox.Flush(); err != nil {
		h.logger.Warn("failed to publish employee events", "error", err)
	}
}

type payrollService struct {
	salaries map[int]float64
}

// PayrollTotal is returned by payroll's total method.
type PayrollTotal struct {
	Employees int     `json:"employees"`
	Total     float64 `json:"total"`
}

func (p *payrollService) definition() *service.Definition {
	return &service.Definition{
		Name: "Payroll",
		Methods: []service.Method{
			{Name: "total", ExpectsReply: true, Invoke: p.total},
		},
		Listeners: map[string]service.Func{
			NewHireChannel: p.onSalary,
			SalaryChannel:  p.onSalary,
		},
	}
}

func (p *payrollService) onSalary(_ context.Context, args []any) (any, error) {
	emp, err := employeeArg(args)
	if err != nil {
		return nil, err
	}
	p.salaries[emp.ID] = emp.Salary
	return nil, nil
}

func (p *payrollService) total(context.Context, []any) (any, error) {
	out := PayrollTotal{Employees: len(p.salaries)}
	for _, s := range p.salaries {
		out.Total += s
	}
	return out, nil
}

type benefitsService struct {
	enrolled []string
}

func (b *benefitsService) definition() *service.Definition {
	return &service.Definition{
		Name: "Benefits",
		Methods: []service.Method{
			{Name: "enrolled", ExpectsReply: true, Invoke: b.list},
		},
		Listeners: map[string]service.Func{
			NewHireChannel: b.enroll,
		},
	}
}

func (b *benefitsService) enroll(_ context.Context, args []any) (any, error) {
	emp, err := employeeArg(args)
	if err != nil {
		return nil, err
	}
	b.enrolled = append(b.enrolled, emp.Name)
	return nil, nil
}

func (b *benefitsService) list(context.Context, []any) (any, error) {
	out := append([]string(nil), b.enrolled...)
	sort.Strings(out)
	return out, nil
}

func stringArg(args []any, i int) (string, error) {
	if i >= len(args) {
		return "", fmt.Errorf("missing argument %d", i)
	}
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %d must be a non-empty string", i)
	}
	return s, nil
}

func numberArg(args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	switch v := args[i].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("argument %d must be a number", i)
	}
}

func employeeArg(args []any) (Employee, error) {
	if len(args) != 1 {
		return Employee{}, fmt.Errorf("expected one employee, got %d args", len(args))
	}
	emp, ok := args[0].(Employee)
	if !ok {
		return Employee{}, fmt.Errorf("expected an employee, got %T", args[0])
	}
	return emp, nil
}
