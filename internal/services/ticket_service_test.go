package services

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"resolvify/internal/models"

	"github.com/sirupsen/logrus"
)

func newTicketTestService(t *testing.T) (*TicketService, *AuditService) {
	db := newTestDB(t)
	logger := logrus.New()
	audit := NewAuditService(db, logger)
	classifier := NewRuleClassifier(0.8, logger)
	return NewTicketService(db, classifier, nil, audit, nil, logger), audit
}

func TestGenerateTicketNumber(t *testing.T) {
	re := regexp.MustCompile(`^IT-\d{8}-[0-9A-F]{6}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		n := GenerateTicketNumber()
		if !re.MatchString(n) {
			t.Fatalf("ticket number %q does not match format", n)
		}
		if seen[n] {
			t.Fatalf("duplicate ticket number %q", n)
		}
		seen[n] = true
	}
}

func TestCreateTicketClassifiesSynchronously(t *testing.T) {
	svc, _ := newTicketTestService(t)

	ticket, err := svc.CreateTicket(context.Background(), &CreateTicketRequest{
		Subject:        "Account locked",
		Description:    "my account is locked after too many attempts",
		RequesterEmail: "eve@corp.example",
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if ticket.Category != models.CategoryAccountUnlock {
		t.Fatalf("category = %s", ticket.Category)
	}
	if ticket.Status != models.TicketStatusNew {
		t.Fatalf("status = %s, want new", ticket.Status)
	}
	if !ticket.CanAutoResolve {
		t.Fatalf("account unlock should be auto-resolvable")
	}
	if ticket.AffectedUser != "eve@corp.example" {
		t.Fatalf("affected user = %q", ticket.AffectedUser)
	}
}

func TestCreateTicketExtractsAffectedUser(t *testing.T) {
	svc, _ := newTicketTestService(t)

	ticket, err := svc.CreateTicket(context.Background(), &CreateTicketRequest{
		Subject:        "Password reset for colleague",
		Description:    "please reset password for bob@corp.example",
		RequesterEmail: "helpdesk@corp.example",
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ticket.AffectedUser != "bob@corp.example" {
		t.Fatalf("affected user = %q, want extracted colleague", ticket.AffectedUser)
	}
}

func TestUpdateTicketRecordsAudit(t *testing.T) {
	svc, audit := newTicketTestService(t)

	ticket, err := svc.CreateTicket(context.Background(), &CreateTicketRequest{
		Subject:        "Printer noises",
		Description:    "strange noises from the office printer",
		RequesterEmail: "dan@corp.example",
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	prio := models.PriorityHigh
	updated, err := svc.UpdateTicket(context.Background(), ticket.ID, &UpdateTicketRequest{
		Priority: prio,
	}, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Priority != models.PriorityHigh {
		t.Fatalf("priority = %s", updated.Priority)
	}

	logs, _, err := audit.List(context.Background(), AuditListQuery{TicketID: &ticket.ID})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	var actions []string
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	found := false
	for _, a := range actions {
		if a == "ticket_updated" {
			found = true
		}
	}
	if !found {
		t.Fatalf("ticket_updated audit missing, got %v", actions)
	}
}

func TestListTicketsFilters(t *testing.T) {
	svc, _ := newTicketTestService(t)
	ctx := context.Background()

	for _, c := range []struct{ subject, description string }{
		{"Forgot password", "I forgot my password"},
		{"Forgot password", "I forgot my password again"},
		{"VPN down", "vpn not working from home"},
	} {
		if _, err := svc.CreateTicket(ctx, &CreateTicketRequest{
			Subject:        c.subject,
			Description:    c.description,
			RequesterEmail: "alice@corp.example",
		}, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	all, total, err := svc.ListTickets(ctx, TicketListQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 3 || len(all) != 3 {
		t.Fatalf("total = %d len = %d", total, len(all))
	}

	pw, total, err := svc.ListTickets(ctx, TicketListQuery{Category: models.CategoryPasswordReset})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if total != 2 {
		t.Fatalf("password tickets = %d, want 2", total)
	}
	for _, tk := range pw {
		if tk.Category != models.CategoryPasswordReset {
			t.Fatalf("filter leaked category %s", tk.Category)
		}
	}

	page, _, err := svc.ListTickets(ctx, TicketListQuery{Page: 1, PageSize: 2})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
}

func TestGetTicketByNumber(t *testing.T) {
	svc, _ := newTicketTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTicket(ctx, &CreateTicketRequest{
		Subject:        "VPN down",
		Description:    "vpn not working",
		RequesterEmail: "alice@corp.example",
	}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.GetTicketByNumber(ctx, created.TicketNumber)
	if err != nil {
		t.Fatalf("get by number: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("got ticket %d, want %d", got.ID, created.ID)
	}

	if _, err := svc.GetTicket(ctx, 9999); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}

func TestTicketAuditLogsMissingTicket(t *testing.T) {
	svc, _ := newTicketTestService(t)
	if _, err := svc.TicketAuditLogs(context.Background(), 12345); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
}
