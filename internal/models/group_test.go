package models

import (
	"testing"

	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/uni-enrollment-api/pkg/errors"
)

func TestGroupValidate(t *testing.T) {
	group := &Group{Capacity: 0}
	require.ErrorIs(t, group.Validate(), appErrors.ErrInvalidCapacity)

	group.Capacity = -3
	require.ErrorIs(t, group.Validate(), appErrors.ErrInvalidCapacity)

	group.Capacity = 1
	require.NoError(t, group.Validate())
}

func TestGroupRosterMutation(t *testing.T) {
	group := &Group{Capacity: 2}

	require.NoError(t, group.AddStudent("s1"))
	require.NoError(t, group.AddStudent("s2"))
	require.True(t, group.IsFull())

	require.ErrorIs(t, group.AddStudent("s3"), appErrors.ErrGroupFull)

	// duplicate wins over capacity when the group is full
	require.ErrorIs(t, group.AddStudent("s1"), appErrors.ErrAlreadyEnrolled)

	require.NoError(t, group.RemoveStudent("s1"))
	require.False(t, group.IsFull())
	enrolled, capacity := group.Occupancy()
	require.Equal(t, 1, enrolled)
	require.Equal(t, 2, capacity)

	require.ErrorIs(t, group.RemoveStudent("s1"), appErrors.ErrNotEnrolled)
}

func TestGroupConflictsWith(t *testing.T) {
	group := &Group{
		Capacity: 10,
		Slots: []ScheduleSlot{
			{Day: DayMonday, StartMinute: 480, EndMinute: 600},
			{Day: DayWednesday, StartMinute: 600, EndMinute: 720},
		},
	}

	require.False(t, group.ConflictsWith(nil))
	require.False(t, group.ConflictsWith([]ScheduleSlot{
		{Day: DayMonday, StartMinute: 600, EndMinute: 720},
	}))
	require.True(t, group.ConflictsWith([]ScheduleSlot{
		{Day: DayWednesday, StartMinute: 660, EndMinute: 780},
	}))
}
