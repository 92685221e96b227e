package chat

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/aimediator/mediator/internal/types"
)

const (
	deepLinkSeparator = "+"
	actionClose       = "C"
)

// EncodeStartPayload packs id into a deep link start parameter.
func EncodeStartPayload(id types.MediationID) string {
	raw := strconv.FormatInt(id.GroupID, 10) + deepLinkSeparator + id.Token
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeStartPayload is the inverse of EncodeStartPayload. Standard padded
// base64 is accepted too.
func DecodeStartPayload(payload string) (types.MediationID, error) {
	payload = strings.TrimSpace(payload)
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return types.MediationID{}, fmt.Errorf("start payload: %w", err)
		}
	}
	group, token, ok := strings.Cut(string(raw), deepLinkSeparator)
	if !ok {
		return types.MediationID{}, fmt.Errorf("start payload: missing separator")
	}
	groupID, err := strconv.ParseInt(group, 10, 64)
	if err != nil || groupID == 0 {
		return types.MediationID{}, fmt.Errorf("start payload: bad group id %q", group)
	}
	id := types.MediationID{GroupID: groupID, Token: token}
	if err := id.Validate(); err != nil {
		return types.MediationID{}, err
	}
	return id, nil
}

// DeepLink returns the link that opens a private chat with bot and joins id.
func DeepLink(bot string, id types.MediationID) string {
	return fmt.Sprintf("t.me/%s?start=%s", bot, EncodeStartPayload(id))
}

func closeData(id types.MediationID) string {
	return fmt.Sprintf("%s %d %s", actionClose, id.GroupID, id.Token)
}

// parseCallback splits callback data into its action and mediation.
func parseCallback(data string) (string, types.MediationID, error) {
	fields := strings.Fields(data)
	if len(fields) != 3 {
		return "", types.MediationID{}, fmt.Errorf("callback %q: want 3 fields", data)
	}
	groupID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", types.MediationID{}, fmt.Errorf("callback %q: %w", data, err)
	}
	id := types.MediationID{GroupID: groupID, Token: fields[2]}
	if err := id.Validate(); err != nil {
		return "", types.MediationID{}, err
	}
	return fields[0], id, nil
}
