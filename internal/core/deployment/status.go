package deployment

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/artpar/fnpublish/internal/core/domain"
)

// =============================================================================
// Status Dialects
// =============================================================================

// StatusDialect names the payload shape of a deployment-control endpoint.
type StatusDialect string

const (
	DialectNone StatusDialect = ""
	DialectKudu StatusDialect = "kudu"
	DialectFlex StatusDialect = "flex"
)

// RemoteState is the numeric deployment state reported by the
// deployment-control endpoint.
type RemoteState int

const (
	RemotePending        RemoteState = 0
	RemoteBuilding       RemoteState = 1
	RemoteDeploying      RemoteState = 2
	RemoteFailed         RemoteState = 3
	RemoteSuccess        RemoteState = 4
	RemoteConflict       RemoteState = 5
	RemotePartialSuccess RemoteState = 6
)

var remoteStateNames = map[string]RemoteState{
	"pending":        RemotePending,
	"building":       RemoteBuilding,
	"deploying":      RemoteDeploying,
	"failed":         RemoteFailed,
	"success":        RemoteSuccess,
	"conflict":       RemoteConflict,
	"partialsuccess": RemotePartialSuccess,
}

// Status maps the remote state onto the closed deployment status set.
func (s RemoteState) Status() domain.DeploymentStatus {
	switch s {
	case RemotePending, RemoteBuilding, RemoteDeploying:
		return domain.StatusPending
	case RemoteFailed:
		return domain.StatusFailed
	case RemoteSuccess:
		return domain.StatusSuccess
	case RemoteConflict:
		return domain.StatusConflict
	case RemotePartialSuccess:
		return domain.StatusPartialSuccess
	}
	return domain.StatusUnknown
}

// Started reports whether a deployment in this state was actually picked up
// by the remote side. Queued deployments are not.
func (s RemoteState) Started() bool {
	switch s {
	case RemoteBuilding, RemoteDeploying, RemoteSuccess, RemoteFailed:
		return true
	}
	return false
}

// ErrUnparsableStatus is returned for payloads without a recognisable status.
var ErrUnparsableStatus = errors.New("unparsable deployment status")

// =============================================================================
// Payload Parsing
// =============================================================================

// Record is one deployment as reported by the deployment-control endpoint.
type Record struct {
	ID       string
	State    RemoteState
	Status   domain.DeploymentStatus
	Complete bool
}

type rawRecord struct {
	ID       string          `json:"id"`
	Status   json.RawMessage `json:"status"`
	Complete bool            `json:"complete"`
}

// ParseRecord parses a single deployment payload in the given dialect.
// The Kudu dialect carries the state as an integer. The Flex dialect accepts
// either the integer or its name.
func ParseRecord(dialect StatusDialect, body []byte) (Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(body, &raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnparsableStatus, err)
	}
	return raw.record(dialect)
}

// ParseRecords parses a deployment listing, newest first as served.
func ParseRecords(dialect StatusDialect, body []byte) ([]Record, error) {
	var raws []rawRecord
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparsableStatus, err)
	}
	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		rec, err := raw.record(dialect)
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// LatestStarted returns the id of the first record that was picked up by the
// remote side, or "" if none was.
func LatestStarted(records []Record) string {
	for _, r := range records {
		if r.State.Started() {
			return r.ID
		}
	}
	return ""
}

func (r rawRecord) record(dialect StatusDialect) (Record, error) {
	state, err := parseState(dialect, r.Status)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:       r.ID,
		State:    state,
		Status:   state.Status(),
		Complete: r.Complete,
	}, nil
}

func parseState(dialect StatusDialect, raw json.RawMessage) (RemoteState, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: status missing", ErrUnparsableStatus)
	}

	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return knownState(n)
	}

	if dialect != DialectFlex {
		return 0, fmt.Errorf("%w: %s", ErrUnparsableStatus, raw)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnparsableStatus, raw)
	}
	if n, err := strconv.Atoi(s); err == nil {
		return knownState(n)
	}
	if state, ok := remoteStateNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return state, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnparsableStatus, s)
}

func knownState(n int) (RemoteState, error) {
	if n < int(RemotePending) || n > int(RemotePartialSuccess) {
		return 0, fmt.Errorf("%w: state %d", ErrUnparsableStatus, n)
	}
	return RemoteState(n), nil
}

// =============================================================================
// Deployment Logs
// =============================================================================

// LogEntry is one line of a deployment log. DetailsURL, when set, points at a
// nested log with more entries.
type LogEntry struct {
	Time       string `json:"log_time"`
	Message    string `json:"message"`
	DetailsURL string `json:"details_url"`
}

// ParseLogEntries parses a deployment log listing.
func ParseLogEntries(body []byte) ([]LogEntry, error) {
	var entries []LogEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parse deployment log: %w", err)
	}
	return entries, nil
}
