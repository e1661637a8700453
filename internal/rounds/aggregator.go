package rounds

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"casino-settlement/internal/errs"
	"casino-settlement/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

type Aggregator struct {
	store store.JournalStore
}

func NewAggregator(st store.JournalStore) *Aggregator {
	return &Aggregator{store: st}
}

type Page struct {
	Items      []Summary `json:"items"`
	NextCursor string    `json:"next_cursor,omitempty"`
}

// GetHistory returns a player's rounds newest first by latest activity.
// Reads take no locks; a round still being settled shows the journal as of
// the read.
func (a *Aggregator) GetHistory(ctx context.Context, tenant, playerID string, limit int, cursor string) (Page, error) {
	if playerID == "" {
		return Page{}, fmt.Errorf("%w: player_id is required", errs.ErrInvalidRequest)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	after, err := DecodeCursor(cursor)
	if err != nil {
		return Page{}, err
	}

	activity, err := a.store.ListRoundActivity(ctx, tenant, playerID, after, limit+1)
	if err != nil {
		return Page{}, err
	}
	hasMore := len(activity) > limit
	if hasMore {
		activity = activity[:limit]
	}
	ids := make([]string, len(activity))
	for i, act := range activity {
		ids[i] = act.RoundID
	}
	entries, err := a.store.ListEntriesForRounds(ctx, tenant, playerID, ids)
	if err != nil {
		return Page{}, err
	}
	audits, err := a.store.ListRounds(ctx, tenant, playerID, ids)
	if err != nil {
		return Page{}, err
	}

	totals := make(map[string]Totals, len(ids))
	for _, e := range entries {
		totals[e.RoundID] = totals[e.RoundID].Add(e)
	}
	auditByID := make(map[string]*store.Round, len(audits))
	for i := range audits {
		auditByID[audits[i].RoundID] = &audits[i]
	}

	page := Page{Items: make([]Summary, 0, len(activity))}
	for _, act := range activity {
		t := totals[act.RoundID]
		// Keep the page ordered by the activity index even if an entry landed
		// between the two queries.
		t.LastActivityAt = act.LastActivityAt
		page.Items = append(page.Items, Summarize(act.RoundID, t, auditByID[act.RoundID]))
	}
	if hasMore && len(activity) > 0 {
		last := activity[len(activity)-1]
		page.NextCursor = EncodeCursor(store.RoundCursor{LastActivityAt: last.LastActivityAt, RoundID: last.RoundID})
	}
	return page, nil
}

// GetRound summarizes a single round.
func (a *Aggregator) GetRound(ctx context.Context, tenant, playerID, roundID string) (Summary, error) {
	entries, err := a.store.ListEntriesForRounds(ctx, tenant, playerID, []string{roundID})
	if err != nil {
		return Summary{}, err
	}
	audit, err := a.store.GetRound(ctx, tenant, playerID, roundID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Summary{}, err
	}
	if len(entries) == 0 && audit == nil {
		return Summary{}, fmt.Errorf("round %s: %w", roundID, errs.ErrNotFound)
	}
	return Summarize(roundID, Fold(entries), audit), nil
}

func EncodeCursor(c store.RoundCursor) string {
	raw := strconv.FormatInt(c.LastActivityAt.UnixNano(), 10) + "|" + c.RoundID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(s string) (*store.RoundCursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", errs.ErrInvalidRequest)
	}
	ts, roundID, ok := strings.Cut(string(raw), "|")
	if !ok || roundID == "" {
		return nil, fmt.Errorf("%w: malformed cursor", errs.ErrInvalidRequest)
	}
	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", errs.ErrInvalidRequest)
	}
	return &store.RoundCursor{LastActivityAt: time.Unix(0, nanos).UTC(), RoundID: roundID}, nil
}
