package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mtlprog/seasonal/internal/domain"
	"github.com/mtlprog/seasonal/internal/seasonal"
)

// rowRequest is the body of POST /api/v1/assets/{asset}/rows.
type rowRequest struct {
	Date  string   `json:"Date" validate:"required,pricedate"`
	Open  *float64 `json:"Open" validate:"required"`
	High  *float64 `json:"High" validate:"required"`
	Low   *float64 `json:"Low" validate:"required"`
	Close *float64 `json:"Close" validate:"required"`
}

// rowPatch is the body of PUT /api/v1/assets/{asset}/rows/{id}. Absent fields keep their stored value.
type rowPatch struct {
	Date  *string  `json:"Date" validate:"omitempty,pricedate"`
	Open  *float64 `json:"Open"`
	High  *float64 `json:"High"`
	Low   *float64 `json:"Low"`
	Close *float64 `json:"Close"`
}

// processRequest is the JSON body of POST /api/v1/process.
type processRequest struct {
	Records        []domain.PriceRecord `json:"records" validate:"required"`
	ReplaceMissing *bool                `json:"replaceMissing"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("pricedate", func(fl validator.FieldLevel) bool {
		_, ok := seasonal.ParseDate(fl.Field().String())
		return ok
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationMessage flattens validator errors into one client-facing message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "pricedate":
			msgs = append(msgs, fmt.Sprintf("%s is not a recognizable date", fe.Field()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func (r rowRequest) record() domain.PriceRecord {
	return domain.PriceRecord{
		domain.ColDate:  r.Date,
		domain.ColOpen:  *r.Open,
		domain.ColHigh:  *r.High,
		domain.ColLow:   *r.Low,
		domain.ColClose: *r.Close,
	}
}

func (p rowPatch) fields() domain.PriceRecord {
	out := domain.PriceRecord{}
	if p.Date != nil {
		out[domain.ColDate] = *p.Date
	}
	for col, v := range map[string]*float64{
		domain.ColOpen: p.Open, domain.ColHigh: p.High, domain.ColLow: p.Low, domain.ColClose: p.Close,
	} {
		if v != nil {
			out[col] = *v
		}
	}
	return out
}
