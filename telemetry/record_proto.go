package telemetry

// Wire structs for record.proto, golang/protobuf v1.3 table marshal layout.

import (
	"time"

	"github.com/golang/protobuf/proto"
)

type RecordAttitude struct {
	Roll                 float64  `protobuf:"fixed64,1,opt,name=roll,proto3" json:"roll,omitempty"`
	Pitch                float64  `protobuf:"fixed64,2,opt,name=pitch,proto3" json:"pitch,omitempty"`
	Yaw                  float64  `protobuf:"fixed64,3,opt,name=yaw,proto3" json:"yaw,omitempty"`
	RollSpeed            float64  `protobuf:"fixed64,4,opt,name=roll_speed,json=rollSpeed,proto3" json:"roll_speed,omitempty"`
	PitchSpeed           float64  `protobuf:"fixed64,5,opt,name=pitch_speed,json=pitchSpeed,proto3" json:"pitch_speed,omitempty"`
	YawSpeed             float64  `protobuf:"fixed64,6,opt,name=yaw_speed,json=yawSpeed,proto3" json:"yaw_speed,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *RecordAttitude) Reset()         { *m = RecordAttitude{} }
func (m *RecordAttitude) String() string { return proto.CompactTextString(m) }
func (*RecordAttitude) ProtoMessage()    {}

type RecordPosition struct {
	Lat                  float64  `protobuf:"fixed64,1,opt,name=lat,proto3" json:"lat,omitempty"`
	Lon                  float64  `protobuf:"fixed64,2,opt,name=lon,proto3" json:"lon,omitempty"`
	Vx                   float64  `protobuf:"fixed64,3,opt,name=vx,proto3" json:"vx,omitempty"`
	Vy                   float64  `protobuf:"fixed64,4,opt,name=vy,proto3" json:"vy,omitempty"`
	Heading              float64  `protobuf:"fixed64,5,opt,name=heading,proto3" json:"heading,omitempty"`
	XXX_NoUnkeyedLiteral struct{} `json:"-"`
	XXX_unrecognized     []byte   `json:"-"`
	XXX_sizecache        int32    `json:"-"`
}

func (m *RecordPosition) Reset()         { *m = RecordPosition{} }
func (m *RecordPosition) String() string { return proto.CompactTextString(m) }
func (*RecordPosition) ProtoMessage()    {}

type Record struct {
	TimeNano             int64           `protobuf:"varint,1,opt,name=time_nano,json=timeNano,proto3" json:"time_nano,omitempty"`
	Kind                 uint32          `protobuf:"varint,2,opt,name=kind,proto3" json:"kind,omitempty"`
	SystemId             uint32          `protobuf:"varint,3,opt,name=system_id,json=systemId,proto3" json:"system_id,omitempty"`
	Attitude             *RecordAttitude `protobuf:"bytes,4,opt,name=attitude,proto3" json:"attitude,omitempty"`
	Position             *RecordPosition `protobuf:"bytes,5,opt,name=position,proto3" json:"position,omitempty"`
	XXX_NoUnkeyedLiteral struct{}        `json:"-"`
	XXX_unrecognized     []byte          `json:"-"`
	XXX_sizecache        int32           `json:"-"`
}

func (m *Record) Reset()         { *m = Record{} }
func (m *Record) String() string { return proto.CompactTextString(m) }
func (*Record) ProtoMessage()    {}

func NewAttitudeRecord(t time.Time, sysid uint8, a Attitude) *Record {
	return &Record{
		TimeNano: t.UnixNano(),
		Kind:     uint32(KindAttitude),
		SystemId: uint32(sysid),
		Attitude: &RecordAttitude{
			Roll:       a.Roll,
			Pitch:      a.Pitch,
			Yaw:        a.Yaw,
			RollSpeed:  a.RollSpeed,
			PitchSpeed: a.PitchSpeed,
			YawSpeed:   a.YawSpeed,
		},
	}
}

func NewPositionRecord(t time.Time, sysid uint8, p PositionVelocityHeading) *Record {
	return &Record{
		TimeNano: t.UnixNano(),
		Kind:     uint32(KindPosition),
		SystemId: uint32(sysid),
		Position: &RecordPosition{
			Lat:     p.Lat,
			Lon:     p.Lon,
			Vx:      p.Vx,
			Vy:      p.Vy,
			Heading: p.Heading,
		},
	}
}

func (m *Record) Time() time.Time { return time.Unix(0, m.TimeNano) }

func (m *Record) GetAttitude() (Attitude, bool) {
	if m == nil || m.Attitude == nil {
		return Attitude{}, false
	}
	a := m.Attitude
	return Attitude{
		Roll:       a.Roll,
		Pitch:      a.Pitch,
		Yaw:        a.Yaw,
		RollSpeed:  a.RollSpeed,
		PitchSpeed: a.PitchSpeed,
		YawSpeed:   a.YawSpeed,
	}, true
}

func (m *Record) GetPosition() (PositionVelocityHeading, bool) {
	if m == nil || m.Position == nil {
		return PositionVelocityHeading{}, false
	}
	p := m.Position
	return PositionVelocityHeading{Lat: p.Lat, Lon: p.Lon, Vx: p.Vx, Vy: p.Vy, Heading: p.Heading}, true
}
