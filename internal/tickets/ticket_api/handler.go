package ticket_api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-tickets/internal/logger"
	"ms-tickets/internal/models"
	"ms-tickets/internal/tickets/db"
	tickets "ms-tickets/internal/tickets/service"
	"ms-tickets/internal/tickets/template"
	"ms-tickets/internal/tickets/theme"
	"ms-tickets/internal/utils"
)

// TicketAPI is the part of tickets.TicketService the HTTP layer needs.
type TicketAPI interface {
	ListTickets(ctx context.Context, orderID string) ([]models.Ticket, error)
	RenderTicket(ctx context.Context, ticketID, themeName string) (*models.Ticket, *template.Document, error)
	ResendForOrder(ctx context.Context, orderID string) (*tickets.IssueResult, error)
	ReissueForOrder(ctx context.Context, orderID string) (*tickets.IssueResult, error)
	Verify(ctx context.Context, payload string) (*tickets.VerifyResult, error)
}

type Handler struct {
	TicketService TicketAPI
	Logger        *logger.Logger
}

func NewHandler(ticketService TicketAPI, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Handler{TicketService: ticketService, Logger: log}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/orders/{orderId}/tickets", h.ListTickets)
	r.Post("/api/orders/{orderId}/tickets/resend", h.ResendTickets)
	r.Post("/api/orders/{orderId}/tickets/reissue", h.ReissueTickets)
	r.Get("/api/tickets/{ticketId}/pdf", h.DownloadTicket)
	r.Post("/api/tickets/verify", h.VerifyTicket)
}

// issueResponse is what resend and reissue report back.
type issueResponse struct {
	OrderID       string          `json:"orderId"`
	Tickets       []models.Ticket `json:"tickets"`
	AlreadyIssued bool            `json:"alreadyIssued"`
	Reissued      bool            `json:"reissued"`
	Emailed       bool            `json:"emailed"`
}

func toIssueResponse(res *tickets.IssueResult) issueResponse {
	return issueResponse{
		OrderID:       res.Order.ID,
		Tickets:       res.Tickets,
		AlreadyIssued: res.AlreadyIssued,
		Reissued:      res.Reissued,
		Emailed:       res.Emailed,
	}
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	list, err := h.TicketService.ListTickets(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "ListTickets", err)
		return
	}
	if list == nil {
		list = []models.Ticket{}
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets retrieved", list))
}

// DownloadTicket redraws one ticket as a PDF attachment.
func (h *Handler) DownloadTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := chi.URLParam(r, "ticketId")
	themeName := r.URL.Query().Get("theme")

	ticket, doc, err := h.TicketService.RenderTicket(r.Context(), ticketID, themeName)
	if err != nil {
		h.writeError(w, "DownloadTicket", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "ticket-"+ticket.TicketID+".pdf"))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.PDF); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("DownloadTicket: write failed for %s: %v", ticketID, err))
		return
	}
	h.Logger.LogTicket("DOWNLOAD", ticket.TicketID, "pdf sent")
}

func (h *Handler) ResendTickets(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("ResendTickets: orderId=%s", orderID))

	res, err := h.TicketService.ResendForOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "ResendTickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets resent", toIssueResponse(res)))
}

func (h *Handler) ReissueTickets(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("ReissueTickets: orderId=%s", orderID))

	res, err := h.TicketService.ReissueForOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "ReissueTickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets reissued", toIssueResponse(res)))
}

// writeError maps service errors onto status codes. Only 5xx responses hide
// the cause.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status, message := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		utils.WriteJSON(w, status, utils.ErrorResponse(message, "internal error"))
		return
	}
	h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	utils.WriteJSON(w, status, utils.ErrorResponse(message, err.Error()))
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, tickets.ErrOrderNotFound), errors.Is(err, db.ErrTicketNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, tickets.ErrOrderNotPaid), errors.Is(err, tickets.ErrMissingEvent), errors.Is(err, db.ErrEventNotFound):
		return http.StatusConflict, "Order cannot be ticketed yet"
	case errors.Is(err, db.ErrAlreadyIssued):
		return http.StatusConflict, "Tickets are already being issued"
	case errors.Is(err, theme.ErrUnknownTheme):
		return http.StatusBadRequest, "Unknown theme"
	case errors.Is(err, tickets.ErrInvalidTicket):
		return http.StatusUnprocessableEntity, "Invalid ticket"
	case errors.Is(err, tickets.ErrTicketSuperseded):
		return http.StatusGone, "Ticket has been reissued"
	default:
		return http.StatusInternalServerError, "Ticket request failed"
	}
}
