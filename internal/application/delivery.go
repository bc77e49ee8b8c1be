package application

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ericfisherdev/coverhook/internal/domain/model"
)

// Messages returned in the body of 200 webhook responses.
const (
	MsgPong               = "pong"
	MsgNotifyQueued       = "Notify queued"
	MsgStatusProcessed    = "Status already processed"
	MsgSkipProcessing     = "Webhook skipped: processing not required"
	MsgSyncYamlQueued     = "Synchronize codecov.yml queued"
	MsgSyncYamlSkipped    = "Synchronize codecov.yml skipped"
	MsgRepoNotActive      = "Repository not active"
	MsgCISkipped          = "CI Skipped"
	MsgUnsupportedRefType = "Unsupported ref type"
	MsgUnsupportedEvent   = "Unsupported event"
	MsgUnknownRepository  = "Repository not tracked"
	MsgUnknownHook        = "Unknown hook"
	MsgPullUpdated        = "Pull updated"
	MsgPullsSyncQueued    = "Pulls sync queued"
	MsgRepoCreated        = "Repository created"
	MsgRepoUpdated        = "Repository updated"
	MsgBranchDeleted      = "Branch deleted"
	MsgRefreshQueued      = "Refresh queued"
	MsgSyncPlansQueued    = "Plan sync queued"
	MsgIgnored            = "Event ignored"
)

// Delivery is one inbound webhook request after transport decoding. Only the
// header fields relevant to Service are populated.
type Delivery struct {
	Service    model.Service
	Event      string
	DeliveryID string
	// Signature is the GitHub X-Hub-Signature-256 header.
	Signature string
	// Token is the GitLab X-Gitlab-Token header.
	Token string
	// HookUUID is the Bitbucket X-Hook-UUID header.
	HookUUID string
	Body     []byte
}

// Result is the outcome of a handled delivery. Every Result is answered with
// HTTP 200.
type Result struct {
	Message string
}

func result(msg string) Result {
	return Result{Message: msg}
}

// flexID decodes a JSON id that providers send either as a number or as a
// string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id %s: %w", data, err)
	}
	*f = flexID(n.String())
	return nil
}

func (f flexID) String() string {
	return string(f)
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return nil
}

// branchFromRef strips refs/heads/ and reports whether ref names a branch.
func branchFromRef(ref string) (string, bool) {
	if name, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
		return name, true
	}
	if strings.HasPrefix(ref, "refs/") {
		return "", false
	}
	return ref, ref != ""
}
