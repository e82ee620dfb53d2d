package device

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	stamp := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    Status
		wantErr bool
	}{
		{
			name: "firmware payload on home wifi",
			payload: `{"boxState":0,"timeRemaining":0,"timerActive":false,"emergencyCount":1,"maxEmergency":3,` +
				`"todayCount":0,"smokeFree":4,"totalCigarettes":12,"totalSaved":6,"totalDays":9,"longestStreak":4,"wifiConnected":true}`,
			want: Status{
				State:         Locked,
				OverrideCount: 1,
				OverrideLimit: 3,
				Network:       NetworkTrusted,
				Timestamp:     stamp,
			},
		},
		{
			name:    "firmware payload on its own access point",
			payload: `{"boxState":2,"timeRemaining":90,"timerActive":true,"emergencyCount":0,"maxEmergency":3,"wifiConnected":false}`,
			want: Status{
				State:            CountdownActive,
				RemainingSeconds: 90,
				OverrideLimit:    3,
				Network:          NetworkAccessPoint,
				Timestamp:        stamp,
			},
		},
		{
			name:    "no network information",
			payload: `{"boxState":0,"maxEmergency":3}`,
			want:    Status{State: Locked, OverrideLimit: 3, Network: NetworkUntrusted, Timestamp: stamp},
		},
		{
			name:    "explicit network wins over wifiConnected",
			payload: `{"boxState":0,"maxEmergency":3,"network":"untrusted","wifiConnected":true}`,
			want:    Status{State: Locked, OverrideLimit: 3, Network: NetworkUntrusted, Timestamp: stamp},
		},
		{
			name:    "missing and zero limit use the firmware default",
			payload: `{"boxState":0,"emergencyCount":2,"maxEmergency":0,"network":"trusted"}`,
			want:    Status{State: Locked, OverrideCount: 2, OverrideLimit: DefaultOverrideLimit, Network: NetworkTrusted, Timestamp: stamp},
		},
		{
			name:    "device timestamp wins over stamp",
			payload: `{"boxState":0,"timeRemaining":0,"emergencyCount":0,"maxEmergency":3,"network":"trusted","timestamp":1740819600500}`,
			want: Status{
				State:         Locked,
				OverrideLimit: 3,
				Network:       NetworkTrusted,
				Timestamp:     time.UnixMilli(1740819600500),
			},
		},
		{
			name:    "access point",
			payload: `{"boxState":4,"network":"access-point"}`,
			want:    Status{State: SetupRequired, OverrideLimit: DefaultOverrideLimit, Network: NetworkAccessPoint, Timestamp: stamp},
		},
		{name: "not json", payload: `{"boxState":`, wantErr: true},
		{name: "missing state", payload: `{"timeRemaining":5}`, wantErr: true},
		{name: "state out of range", payload: `{"boxState":9}`, wantErr: true},
		{name: "negative remaining", payload: `{"boxState":2,"timeRemaining":-1}`, wantErr: true},
		{name: "negative counters", payload: `{"boxState":0,"emergencyCount":-2}`, wantErr: true},
		{name: "negative limit", payload: `{"boxState":0,"maxEmergency":-1}`, wantErr: true},
		{name: "unknown network", payload: `{"boxState":0,"network":"cellular"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStatus([]byte(tt.payload), stamp)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedStatus))
				assert.Equal(t, Status{}, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.State, got.State)
			assert.Equal(t, tt.want.RemainingSeconds, got.RemainingSeconds)
			assert.Equal(t, tt.want.OverrideCount, got.OverrideCount)
			assert.Equal(t, tt.want.OverrideLimit, got.OverrideLimit)
			assert.Equal(t, tt.want.Network, got.Network)
			assert.True(t, tt.want.Timestamp.Equal(got.Timestamp))
		})
	}
}

func TestOverridePermissionFollowsNetwork(t *testing.T) {
	s := Status{Network: NetworkTrusted}
	assert.True(t, s.OverridePermission())

	s.Network = NetworkUntrusted
	assert.False(t, s.OverridePermission())

	s.Network = NetworkAccessPoint
	assert.True(t, s.OverridePermission())

	assert.False(t, Status{}.OverridePermission())
}

func TestStatusJSONRoundTrip(t *testing.T) {
	in := Status{
		State:            EmergencyActive,
		RemainingSeconds: 12,
		OverrideCount:    2,
		OverrideLimit:    3,
		Network:          NetworkTrusted,
		Timestamp:        time.UnixMilli(1740819600123),
	}

	data, err := in.MarshalJSON()
	require.NoError(t, err)

	out, err := ParseStatus(data, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, in.State, out.State)
	assert.Equal(t, in.Network, out.Network)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
}
