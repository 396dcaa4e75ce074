package dto

// EnrollRequest payload for enrolling a student into a group.
type EnrollRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	GroupID   string `json:"groupId" validate:"required"`
	TermID    string `json:"termId" validate:"required"`
}

// DropRequest payload for removing a student from a group.
type DropRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	GroupID   string `json:"groupId" validate:"required"`
}

// SlotPayload describes one meeting block when creating a group.
type SlotPayload struct {
	Day         string `json:"day" validate:"required"`
	StartMinute int    `json:"startMinute" validate:"gte=0"`
	EndMinute   int    `json:"endMinute" validate:"gt=0"`
}

// CreateGroupRequest payload for registering a course section.
type CreateGroupRequest struct {
	CourseID     string        `json:"courseId" validate:"required"`
	TermID       string        `json:"termId" validate:"required"`
	Code         string        `json:"code" validate:"required"`
	Capacity     int           `json:"capacity"`
	InstructorID *string       `json:"instructorId,omitempty"`
	Slots        []SlotPayload `json:"slots" validate:"dive"`
}
