// Package gdpr exports and erases the opt-in records of one email address.
package gdpr

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-doubleoptin/internal/application/optin"
	"github.com/go-doubleoptin/internal/domain"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Record is the flat export view of one opt-in.
type Record struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	FormID           string `json:"form_id"`
	Confirmed        bool   `json:"confirmed"`
	OptedOut         bool   `json:"opted_out"`
	ConsentText      string `json:"consent_text"`
	RegistrationDate string `json:"registration_date"`
	RegistrationIP   string `json:"registration_ip"`
	ConfirmationDate string `json:"confirmation_date"`
	ConfirmationIP   string `json:"confirmation_ip"`
	OptOutDate       string `json:"optout_date"`
	OptOutIP         string `json:"optout_ip"`
	Hash             string `json:"hash"`
}

var csvHeader = []string{
	"id", "email", "form_id", "confirmed", "opted_out", "consent_text",
	"registration_date", "registration_ip", "confirmation_date", "confirmation_ip",
	"optout_date", "optout_ip", "hash",
}

func (r Record) row() []string {
	return []string{
		r.ID, r.Email, r.FormID, strconv.FormatBool(r.Confirmed), strconv.FormatBool(r.OptedOut), r.ConsentText,
		r.RegistrationDate, r.RegistrationIP, r.ConfirmationDate, r.ConfirmationIP,
		r.OptOutDate, r.OptOutIP, r.Hash,
	}
}

// FromOptIn flattens a record. The confirmation date is the last update of a
// confirmed record.
func FromOptIn(o domain.OptIn) Record {
	rec := Record{
		ID:               o.ID,
		Email:            o.Email,
		FormID:           o.FormID,
		Confirmed:        o.Confirmed,
		OptedOut:         o.IsOptedOut(),
		ConsentText:      o.ConsentText,
		RegistrationDate: formatTime(o.CreateTime),
		RegistrationIP:   o.IPRegister,
		Hash:             o.Hash,
	}
	if o.Confirmed {
		rec.ConfirmationDate = formatTime(o.UpdateTime)
		rec.ConfirmationIP = o.IPConfirmation
	}
	if rec.OptedOut {
		rec.OptOutDate = formatTime(o.OptOutTime)
		rec.OptOutIP = o.IPOptOut
	}
	return rec
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type Service struct {
	repo  optin.Repository
	files optin.FileStore
	log   *slog.Logger
}

func NewService(repo optin.Repository, files optin.FileStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, files: files, log: log}
}

// Export returns the records stored for email.
func (s *Service) Export(ctx context.Context, email string) ([]Record, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}
	list, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(list))
	for _, o := range list {
		out = append(out, FromOptIn(o))
	}
	return out, nil
}

// Write encodes records in the given format.
func Write(w io.Writer, format string, recs []Record) error {
	switch format {
	case FormatCSV, "":
		return WriteCSV(w, recs)
	case FormatJSON:
		return WriteJSON(w, recs)
	default:
		return fmt.Errorf("unknown export format %q: %w", format, domain.ErrBadRequest)
	}
}

// WriteCSV writes a UTF-8 BOM, a header row and one row per record.
func WriteCSV(w io.Writer, recs []Record) error {
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range recs {
		if err := cw.Write(r.row()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the records as an indented JSON array.
func WriteJSON(w io.Writer, recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// Erase anonymizes every record of email and removes their stored files.
// It returns the number of records erased.
func (s *Service) Erase(ctx context.Context, email string) (int, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return 0, fmt.Errorf("email required: %w", domain.ErrBadRequest)
	}
	list, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range list {
		o := &list[i]
		files := o.Files
		o.Anonymize()
		if err := s.repo.Save(ctx, o); err != nil {
			return n, fmt.Errorf("erase opt-in %s: %w", o.ID, err)
		}
		for _, k := range files {
			if err := s.files.Delete(ctx, k); err != nil {
				s.log.Warn("erase stored file", "key", k, "err", err)
			}
		}
		n++
	}
	s.log.Info("gdpr erasure", "email", email, "records", n)
	return n, nil
}
