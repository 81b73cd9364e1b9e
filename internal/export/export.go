// Package export builds downloadable archives of an organization's data.
// It runs in two modes: asynchronously as a background job during a soft
// deletion's grace period, and synchronously before a permanent purge.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/orgdesk/orgdesk/internal/org"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrUnknownFormat rejects formats outside json/csv.
var ErrUnknownFormat = errors.New("export: unknown format")

// Categories an export can be narrowed to. An empty selection means all.
const (
	CategoryOrganization = "organization"
	CategoryMemberships  = "memberships"
	CategoryInvitations  = "invitations"
	CategoryPreferences  = "preferences"
)

// SnapshotSource reads everything an export serializes. Satisfied by the
// org repository.
type SnapshotSource interface {
	Snapshot(ctx context.Context, orgID uuid.UUID) (*org.Snapshot, error)
}

// ArtifactStore persists a finished archive and returns its URL. The
// filesystem implementation is in store.go; the physical storage engine is
// deliberately behind this interface.
type ArtifactStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// Result describes a finished export.
type Result struct {
	URL         string    `json:"url"`
	Format      Format    `json:"format"`
	GeneratedAt time.Time `json:"generated_at"`
}

type Service struct {
	source SnapshotSource
	store  ArtifactStore
	logger *slog.Logger
	now    func() time.Time
}

func NewService(source SnapshotSource, store ArtifactStore, logger *slog.Logger) *Service {
	return &Service{
		source: source,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Export builds an archive of the organization's data in the requested
// format, narrowed to categories when given.
func (s *Service) Export(ctx context.Context, orgID uuid.UUID, format Format, categories []string) (*Result, error) {
	snap, err := s.source.Snapshot(ctx, orgID)
	if err != nil {
		return nil, err
	}
	filtered := filter(snap, categories)

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(filtered, "", "  ")
	case FormatCSV:
		data, err = encodeCSV(filtered)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("org-%s-%s.%s", orgID, uuid.New(), format)
	url, err := s.store.Put(ctx, name, data)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("export complete",
			slog.String("org_id", orgID.String()),
			slog.String("format", string(format)),
			slog.Int("bytes", len(data)),
		)
	}
	return &Result{URL: url, Format: format, GeneratedAt: s.now().UTC()}, nil
}

func filter(snap *org.Snapshot, categories []string) *org.Snapshot {
	if len(categories) == 0 {
		return snap
	}
	keep := map[string]bool{}
	for _, c := range categories {
		keep[c] = true
	}
	out := &org.Snapshot{}
	if keep[CategoryOrganization] {
		out.Organization = snap.Organization
	}
	if keep[CategoryMemberships] {
		out.Memberships = snap.Memberships
	}
	if keep[CategoryInvitations] {
		out.Invitations = snap.Invitations
	}
	if keep[CategoryPreferences] {
		out.Preferences = snap.Preferences
	}
	return out
}

// encodeCSV writes one titled section per category, blank-line separated.
func encodeCSV(snap *org.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	writeSection := func(title string, header []string, rows [][]string) error {
		if err := w.Write([]string{"#", title}); err != nil {
			return err
		}
		if err := w.Write(header); err != nil {
			return err
		}
		for _, row := range rows {
			if err := w.Write(row); err != nil {
				return err
			}
		}
		return nil
	}

	if snap.Organization.ID != uuid.Nil {
		o := snap.Organization
		if err := writeSection("organization",
			[]string{"id", "name", "slug", "status", "owner_user_id", "created_at"},
			[][]string{{o.ID.String(), o.Name, o.Slug, string(o.Status), o.OwnerUserID.String(), o.CreatedAt.Format(time.RFC3339)}},
		); err != nil {
			return nil, err
		}
	}
	if len(snap.Memberships) > 0 {
		rows := make([][]string, 0, len(snap.Memberships))
		for _, m := range snap.Memberships {
			rows = append(rows, []string{m.UserID.String(), string(m.Role), m.JoinedAt.Format(time.RFC3339)})
		}
		if err := writeSection("memberships", []string{"user_id", "role", "joined_at"}, rows); err != nil {
			return nil, err
		}
	}
	if len(snap.Invitations) > 0 {
		rows := make([][]string, 0, len(snap.Invitations))
		for _, inv := range snap.Invitations {
			rows = append(rows, []string{inv.ID.String(), inv.Email, string(inv.Role), inv.Status, inv.CreatedAt.Format(time.RFC3339)})
		}
		if err := writeSection("invitations", []string{"id", "email", "role", "status", "created_at"}, rows); err != nil {
			return nil, err
		}
	}
	if p := snap.Preferences; p != nil {
		if err := writeSection("preferences",
			[]string{"locale", "timezone", "notify_email", "notify_digest"},
			[][]string{{p.Locale, p.Timezone, strconv.FormatBool(p.NotifyEmail), strconv.FormatBool(p.NotifyDigest)}},
		); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}
