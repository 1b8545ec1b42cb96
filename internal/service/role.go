package service

// ParticipantRole is a user's relationship to an occurrence or routine.
type ParticipantRole string

const (
	RoleHost     ParticipantRole = "HOST"
	RoleAttendee ParticipantRole = "ATTENDEE"
	RoleNone     ParticipantRole = "NONE"
)

// ResolveParticipantRole maps a user onto an occurrence or routine: the
// owning teacher is HOST, any member student is ATTENDEE, everyone else NONE.
// All authorization checks in the coordinator and handlers go through this.
func ResolveParticipantRole(teacherID string, studentIDs []string, userID string) ParticipantRole {
	if userID == "" {
		return RoleNone
	}
	if userID == teacherID {
		return RoleHost
	}
	for _, id := range studentIDs {
		if id == userID {
			return RoleAttendee
		}
	}
	return RoleNone
}
