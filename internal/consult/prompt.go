package consult

import (
	"fmt"
	"strings"

	"github.com/aimediator/mediator/internal/types"
)

// BuildRequest assembles the completion request for participant index i.
//
// Other participants' perspectives are listed round-robin starting with the
// participant after i, so every request sees the others in a different order.
// perspectives must hold an entry for every participant.
func BuildRequest(participants []types.Participant, perspectives map[int64]string, i int) []Message {
	n := len(participants)
	target := participants[i]
	names := make([]string, n)
	for k, p := range participants {
		names[k] = p.DisplayName
	}

	frame := fmt.Sprintf("There are %d people who have a conflict: %s. "+
		"Everyone has their own perspective on the conflict. "+
		"Please read their versions of the truth and give %s some suggestions on how to deal with the situation in a constructive way.",
		n, joinNames(names), target.DisplayName)

	var others strings.Builder
	others.WriteString("Here are the other peoples' perspectives:\n\n")
	for j := 1; j < n; j++ {
		other := participants[(i+j)%n]
		if j > 1 {
			others.WriteString("\n\n")
		}
		fmt.Fprintf(&others, "Person %d, %s:\n%s", j, other.DisplayName, perspectives[other.UserID])
	}

	return []Message{
		{Role: RoleSystem, Content: frame},
		{Role: RoleSystem, Content: others.String()},
		{Role: RoleSystem, Content: fmt.Sprintf("Here is the user's (%s) perspective:", target.DisplayName)},
		{Role: RoleUser, Content: perspectives[target.UserID]},
		{Role: RoleSystem, Content: fmt.Sprintf("Please give the user (%[1]s) some suggestions on how to deal with the situation "+
			"in a constructive way or what to reflect about. Answer in the same language as the user (%[1]s) used in their message. "+
			"If you think something is amiss or there is a misunderstanding, suggest 'starting a new mediation in the group chat'.",
			target.DisplayName)},
	}
}

// joinNames renders "A", "A and B", "A, B and C".
func joinNames(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
