package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/uni-enrollment-api/internal/dto"
	"github.com/noah-isme/uni-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

type groupStoreStub struct {
	mu     sync.Mutex
	groups map[string]*models.Group
}

func newGroupStoreStub(groups ...*models.Group) *groupStoreStub {
	stub := &groupStoreStub{groups: make(map[string]*models.Group)}
	for _, g := range groups {
		stub.groups[g.ID] = g
	}
	return stub
}

func (s *groupStoreStub) FindByID(ctx context.Context, id string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *group
	copy.Roster = append([]string(nil), group.Roster...)
	copy.Slots = append([]models.ScheduleSlot(nil), group.Slots...)
	return &copy, nil
}

func (s *groupStoreStub) AddMember(ctx context.Context, groupID, studentID string, joinedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return sql.ErrNoRows
	}
	group.Roster = append(group.Roster, studentID)
	return nil
}

func (s *groupStoreStub) RemoveMember(ctx context.Context, groupID, studentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[groupID]
	if !ok {
		return sql.ErrNoRows
	}
	for i, id := range group.Roster {
		if id == studentID {
			group.Roster = append(group.Roster[:i], group.Roster[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (s *groupStoreStub) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.groups, id)
	return nil
}

func (s *groupStoreStub) roster(groupID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.groups[groupID].Roster...)
}

type enrollmentStoreStub struct {
	mu      sync.Mutex
	seq     int
	records map[string]*models.Enrollment
	slots   map[string][]models.ScheduleSlot
}

func newEnrollmentStoreStub() *enrollmentStoreStub {
	return &enrollmentStoreStub{
		records: make(map[string]*models.Enrollment),
		slots:   make(map[string][]models.ScheduleSlot),
	}
}

func (s *enrollmentStoreStub) Create(ctx context.Context, enrollment *models.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if enrollment.ID == "" {
		enrollment.ID = fmt.Sprintf("enr-%d", s.seq)
	}
	copy := *enrollment
	s.records[enrollment.ID] = &copy
	return nil
}

func (s *enrollmentStoreStub) FindActive(ctx context.Context, studentID, groupID string) (*models.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if record.StudentID == studentID && record.GroupID == groupID && record.Status == models.EnrollmentStatusActive {
			copy := *record
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *enrollmentStoreStub) ActiveSlots(ctx context.Context, studentID, termID, excludeGroupID string) ([]models.ScheduleSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []models.ScheduleSlot
	for _, slot := range s.slots[studentID] {
		if excludeGroupID != "" && slot.GroupID == excludeGroupID {
			continue
		}
		result = append(result, slot)
	}
	return result, nil
}

func (s *enrollmentStoreStub) Retire(ctx context.Context, id string, leftAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok || record.Status != models.EnrollmentStatusActive {
		return sql.ErrNoRows
	}
	record.Status = models.EnrollmentStatusClosed
	record.LeftAt = &leftAt
	return nil
}

func (s *enrollmentStoreStub) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	return nil, 0, nil
}

type studentStoreStub struct {
	students map[string]*models.Student
}

func newStudentStoreStub(ids ...string) *studentStoreStub {
	stub := &studentStoreStub{students: make(map[string]*models.Student)}
	for _, id := range ids {
		stub.students[id] = &models.Student{ID: id, Active: true}
	}
	return stub
}

func (s *studentStoreStub) FindByID(ctx context.Context, id string) (*models.Student, error) {
	student, ok := s.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *student
	return &copy, nil
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func newEnrollmentFixture(groups ...*models.Group) (*EnrollmentService, *groupStoreStub, *enrollmentStoreStub) {
	groupStore := newGroupStoreStub(groups...)
	enrollmentStore := newEnrollmentStoreStub()
	students := newStudentStoreStub("s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8")
	svc := NewEnrollmentService(groupStore, enrollmentStore, students, &auditStub{}, nil, nil, nil)
	return svc, groupStore, enrollmentStore
}

func TestEnrollmentServiceEnrollFillsGroup(t *testing.T) {
	svc, groups, _ := newEnrollmentFixture(&models.Group{ID: "g1", TermID: "t1", Capacity: 2})
	ctx := context.Background()

	_, err := svc.Enroll(ctx, dto.EnrollRequest{StudentID: "s1", GroupID: "g1", TermID: "t1"})
	require.NoError(t, err)
	_, err = svc.Enroll(ctx, dto.EnrollRequest{StudentID: "s2", GroupID: "g1", TermID: "t1"})
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, dto.EnrollRequest{StudentID: "s3", GroupID: "g1", TermID: "t1"})
	require.ErrorIs(t, err, appErrors.ErrGroupFull)
	require.Equal(t, []string{"s1", "s2"}, groups.roster("g1"))
}

func TestEnrollmentServiceEnrollDuplicate(t *testing.T) {
	svc, _, _ := newEnrollmentFixture(&models.Group{ID: "g1", TermID: "t1", Capacity: 3, Roster: []string{"s1"}})

	_, err := svc.Enroll(context.Background(), dto.EnrollRequest{StudentID: "s1", GroupID: "g1", TermID: "t1"})
	require.ErrorIs(t, err, appErrors.ErrAlreadyEnrolled)
}

func TestEnrollmentServiceEnrollScheduleConflict(t *testing.T) {
	target := &models.Group{
		ID: "g2", TermID: "t1", Capacity: 5,
		Slots: []models.ScheduleSlot{{Day: models.DayMonday, StartMinute: 540, EndMinute: 660}},
	}
	svc, _, enrollments := newEnrollmentFixture(target)
	enrollments.slots["s1"] = []models.ScheduleSlot{
		{GroupID: "g1", Day: models.DayMonday, StartMinute: 480, EndMinute: 600},
	}

	_, err := svc.Enroll(context.Background(), dto.EnrollRequest{StudentID: "s1", GroupID: "g2", TermID: "t1"})
	require.ErrorIs(t, err, appErrors.ErrScheduleConflict)

	// a block that starts exactly when the existing one ends is fine
	enrollments.slots["s1"] = []models.ScheduleSlot{
		{GroupID: "g1", Day: models.DayMonday, StartMinute: 420, EndMinute: 540},
	}
	_, err = svc.Enroll(context.Background(), dto.EnrollRequest{StudentID: "s1", GroupID: "g2", TermID: "t1"})
	require.NoError(t, err)
}

func TestEnrollmentServiceConcurrentEnrollLastSeat(t *testing.T) {
	svc, groups, _ := newEnrollmentFixture(&models.Group{ID: "g1", TermID: "t1", Capacity: 1})
	students := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}

	var wg sync.WaitGroup
	errs := make([]error, len(students))
	for i, studentID := range students {
		wg.Add(1)
		go func(i int, studentID string) {
			defer wg.Done()
			_, errs[i] = svc.Enroll(context.Background(), dto.EnrollRequest{StudentID: studentID, GroupID: "g1", TermID: "t1"})
		}(i, studentID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, appErrors.ErrGroupFull)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, groups.roster("g1"), 1)
}

func TestEnrollmentServiceDrop(t *testing.T) {
	svc, groups, enrollments := newEnrollmentFixture(&models.Group{ID: "g1", TermID: "t1", Capacity: 2})
	ctx := context.Background()

	enrollment, err := svc.Enroll(ctx, dto.EnrollRequest{StudentID: "s1", GroupID: "g1", TermID: "t1"})
	require.NoError(t, err)

	require.NoError(t, svc.Drop(ctx, dto.DropRequest{StudentID: "s1", GroupID: "g1"}))
	require.Empty(t, groups.roster("g1"))

	// the record is retired, never deleted
	record := enrollments.records[enrollment.ID]
	require.Equal(t, models.EnrollmentStatusClosed, record.Status)
	require.NotNil(t, record.LeftAt)

	require.ErrorIs(t, svc.Drop(ctx, dto.DropRequest{StudentID: "s1", GroupID: "g1"}), appErrors.ErrNotEnrolled)
}

func TestEnrollmentServiceMoveStudent(t *testing.T) {
	source := &models.Group{ID: "g1", TermID: "t1", Capacity: 2}
	target := &models.Group{ID: "g2", TermID: "t1", Capacity: 1}
	svc, groups, _ := newEnrollmentFixture(source, target)
	ctx := context.Background()

	_, err := svc.Enroll(ctx, dto.EnrollRequest{StudentID: "s1", GroupID: "g1", TermID: "t1"})
	require.NoError(t, err)

	require.NoError(t, svc.MoveStudent(ctx, "s1", "g1", "g2", "t1"))
	require.Empty(t, groups.roster("g1"))
	require.Equal(t, []string{"s1"}, groups.roster("g2"))
}

func TestEnrollmentServiceMoveStudentTargetFull(t *testing.T) {
	source := &models.Group{ID: "g1", TermID: "t1", Capacity: 2, Roster: []string{"s1"}}
	target := &models.Group{ID: "g2", TermID: "t1", Capacity: 1, Roster: []string{"s2"}}
	svc, groups, _ := newEnrollmentFixture(source, target)

	err := svc.MoveStudent(context.Background(), "s1", "g1", "g2", "t1")
	require.ErrorIs(t, err, appErrors.ErrGroupFull)

	// a failed move leaves both rosters untouched
	require.Equal(t, []string{"s1"}, groups.roster("g1"))
	require.Equal(t, []string{"s2"}, groups.roster("g2"))
}

func TestEnrollmentServiceDeleteGroup(t *testing.T) {
	svc, groups, _ := newEnrollmentFixture(&models.Group{ID: "g1", TermID: "t1", Capacity: 2})
	ctx := context.Background()
	admin := &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}

	_, err := svc.Enroll(ctx, dto.EnrollRequest{StudentID: "s1", GroupID: "g1", TermID: "t1"})
	require.NoError(t, err)

	err = svc.DeleteGroup(ctx, "g1", &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	require.ErrorIs(t, err, appErrors.ErrForbidden)

	err = svc.DeleteGroup(ctx, "g1", admin)
	require.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)

	require.NoError(t, svc.Drop(ctx, dto.DropRequest{StudentID: "s1", GroupID: "g1"}))
	require.NoError(t, svc.DeleteGroup(ctx, "g1", admin))
	_, ok := groups.groups["g1"]
	require.False(t, ok)
}
