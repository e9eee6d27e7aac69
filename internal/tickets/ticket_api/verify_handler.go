package ticket_api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"ms-tickets/internal/models"
	"ms-tickets/internal/utils"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

// VerifyRequest carries the text a scanner read from a ticket's QR code.
type VerifyRequest struct {
	Payload string `json:"payload" validate:"required,max=4096"`
}

type VerifyResponse struct {
	Valid            bool          `json:"valid"`
	AlreadyCheckedIn bool          `json:"alreadyCheckedIn"`
	Ticket           models.Ticket `json:"ticket"`
}

// VerifyTicket checks a scanned payload and checks the ticket in. A repeat
// scan is still 200 with alreadyCheckedIn set.
func (h *Handler) VerifyTicket(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := decodeJSONBody(r, &req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	res, err := h.TicketService.Verify(r.Context(), req.Payload)
	if err != nil {
		h.writeError(w, "VerifyTicket", err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Ticket verified", VerifyResponse{
		Valid:            true,
		AlreadyCheckedIn: res.AlreadyCheckedIn,
		Ticket:           res.Ticket,
	}))
}

func decodeJSONBody(r *http.Request, dest interface{}) error {
	defer io.Copy(io.Discard, r.Body)

	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fe.Field()+" is required")
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fe.Field()+" is invalid")
		}
	}
	return fmt.Errorf("validation failed: %s", strings.Join(parts, ", "))
}
