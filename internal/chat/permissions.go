package chat

import "sort"

// Permission is one capability granted by chat discovery.
type Permission uint16

const (
	PermConnect Permission = 1 << iota
	PermChat
	PermWhisper
	PermPollStart
	PermPollVote
	PermClearMessages
	PermPurge
	PermGiveawayStart
)

var permissionNames = map[string]Permission{
	"connect":        PermConnect,
	"chat":           PermChat,
	"whisper":        PermWhisper,
	"poll_start":     PermPollStart,
	"poll_vote":      PermPollVote,
	"clear_messages": PermClearMessages,
	"purge":          PermPurge,
	"giveaway_start": PermGiveawayStart,
}

// Permissions is a set of Permission flags.
type Permissions uint16

// ParsePermissions maps permission strings to flags. Unknown names are ignored.
func ParsePermissions(names []string) Permissions {
	var p Permissions
	for _, name := range names {
		if flag, ok := permissionNames[name]; ok {
			p |= Permissions(flag)
		}
	}
	return p
}

func (p Permissions) Has(flag Permission) bool {
	return p&Permissions(flag) != 0
}

// Strings lists the granted permission names in sorted order.
func (p Permissions) Strings() []string {
	var out []string
	for name, flag := range permissionNames {
		if p.Has(flag) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
