package chat

const (
	helpMessage = "I am a bot that helps people to find solutions in interpersonal conflicts. " +
		"You can initiate a new mediation by sending the following command in any group chat:\n/mediate <title>\n\n" +
		"Anyone can then join the mediation and participate by explaining to me in a private chat " +
		"what their perspective on the situation is. After reading all perspectives I will try to give " +
		"helpful ideas how to handle the situation to each participant."

	startErrorMessage = "Don't try to start me manually in private chat. Follow a link by clicking on the " +
		"participate button in a group chat instead. Create such a link in a group with the following command:\n/mediate <title>"

	notInGroupMessage  = "You need to create mediations in a group chat with other people. This is our private chat."
	missingTitleReply  = "When creating a new mediation, please provide a title as a reference like so:\n/mediate <title>"
	genericErrorReply  = "Oops, something went wrong."
	notFoundReply      = "I could not find this mediation. Maybe the link is broken?"
	notOpenReply       = "This mediation is not accepting new participants anymore. Start a new one in the group chat."
	finishedReply      = "This mediation is already finished. Start a new one in the group chat."
	nobodyJoinedReply  = "Nobody has joined this mediation yet, so it cannot be closed."
	notParticipantText = "You are not a participant of this mediation. Join it through the participate button in the group chat."

	closeHintAfterJoin   = "Click on close if you don't expect any more participants."
	closeHintAfterSubmit = "If you want results as soon as everyone has submitted their perspective and if you don't expect any more participants to join, close the mediation."
)
