package proto

// DeviceType identifies the kind of device checking in.
type DeviceType int32

const (
	DeviceAndroidOS     DeviceType = 1
	DeviceIOSOS         DeviceType = 2
	DeviceChromeBrowser DeviceType = 3
	DeviceChromeOS      DeviceType = 4
)

// Platform of a Chrome build.
type Platform int32

const (
	PlatformWin     Platform = 1
	PlatformMac     Platform = 2
	PlatformLinux   Platform = 3
	PlatformCros    Platform = 4
	PlatformIOS     Platform = 5
	PlatformAndroid Platform = 6
)

// Channel of a Chrome build.
type Channel int32

const (
	ChannelStable  Channel = 1
	ChannelBeta    Channel = 2
	ChannelDev     Channel = 3
	ChannelCanary  Channel = 4
	ChannelUnknown Channel = 5
)

// ChromeBuildProto describes the browser build that checks in.
type ChromeBuildProto struct {
	Platform      *Platform
	ChromeVersion string
	Channel       *Channel
}

func (m *ChromeBuildProto) Marshal() ([]byte, error) {
	var b []byte
	if m.Platform != nil {
		b = appendInt32(b, 1, int32(*m.Platform))
	}
	b = appendOptString(b, 2, m.ChromeVersion)
	if m.Channel != nil {
		b = appendInt32(b, 3, int32(*m.Channel))
	}
	return b, nil
}

func (m *ChromeBuildProto) Unmarshal(b []byte) error {
	*m = ChromeBuildProto{}
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			v := Platform(d.int32())
			m.Platform = &v
		case 2:
			m.ChromeVersion = d.string()
		case 3:
			v := Channel(d.int32())
			m.Channel = &v
		default:
			d.skip()
		}
	}
	return d.err
}

// AndroidCheckinProto is the device section of a check-in.
type AndroidCheckinProto struct {
	LastCheckinMsec *int64
	CellOperator    string
	SimOperator     string
	Roaming         string
	UserNumber      *int32
	Type            *DeviceType
	ChromeBuild     *ChromeBuildProto
}

func (m *AndroidCheckinProto) Marshal() ([]byte, error) {
	var (
		b   []byte
		err error
	)
	if m.LastCheckinMsec != nil {
		b = appendInt64(b, 2, *m.LastCheckinMsec)
	}
	b = appendOptString(b, 6, m.CellOperator)
	b = appendOptString(b, 7, m.SimOperator)
	b = appendOptString(b, 8, m.Roaming)
	if m.UserNumber != nil {
		b = appendInt32(b, 9, *m.UserNumber)
	}
	if m.Type != nil {
		b = appendInt32(b, 12, int32(*m.Type))
	}
	if m.ChromeBuild != nil {
		if b, err = appendMessage(b, 13, m.ChromeBuild); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (m *AndroidCheckinProto) Unmarshal(b []byte) error {
	*m = AndroidCheckinProto{}
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 2:
			v := d.int64()
			m.LastCheckinMsec = &v
		case 6:
			m.CellOperator = d.string()
		case 7:
			m.SimOperator = d.string()
		case 8:
			m.Roaming = d.string()
		case 9:
			v := d.int32()
			m.UserNumber = &v
		case 12:
			v := DeviceType(d.int32())
			m.Type = &v
		case 13:
			m.ChromeBuild = &ChromeBuildProto{}
			d.message(m.ChromeBuild)
		default:
			d.skip()
		}
	}
	return d.err
}

// AndroidCheckinRequest is posted to the check-in endpoint. Leaving ID and
// SecurityToken unset provisions a new device identity.
type AndroidCheckinRequest struct {
	ID               *int64
	Digest           string
	Checkin          *AndroidCheckinProto
	Locale           string
	TimeZone         string
	SecurityToken    *uint64
	Version          *int32
	UserSerialNumber *int32
}

func (m *AndroidCheckinRequest) Marshal() ([]byte, error) {
	if m.Checkin == nil {
		return nil, missing("AndroidCheckinRequest", "checkin")
	}

	var b []byte
	if m.ID != nil {
		b = appendInt64(b, 2, *m.ID)
	}
	b = appendOptString(b, 3, m.Digest)
	b, err := appendMessage(b, 4, m.Checkin)
	if err != nil {
		return nil, err
	}
	b = appendOptString(b, 6, m.Locale)
	b = appendOptString(b, 12, m.TimeZone)
	if m.SecurityToken != nil {
		b = appendFixed64(b, 13, *m.SecurityToken)
	}
	if m.Version != nil {
		b = appendInt32(b, 14, *m.Version)
	}
	if m.UserSerialNumber != nil {
		b = appendInt32(b, 22, *m.UserSerialNumber)
	}
	return b, nil
}

func (m *AndroidCheckinRequest) Unmarshal(b []byte) error {
	*m = AndroidCheckinRequest{}
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 2:
			v := d.int64()
			m.ID = &v
		case 3:
			m.Digest = d.string()
		case 4:
			m.Checkin = &AndroidCheckinProto{}
			d.message(m.Checkin)
		case 6:
			m.Locale = d.string()
		case 12:
			m.TimeZone = d.string()
		case 13:
			v := d.fixed64()
			m.SecurityToken = &v
		case 14:
			v := d.int32()
			m.Version = &v
		case 22:
			v := d.int32()
			m.UserSerialNumber = &v
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if m.Checkin == nil {
		return missing("AndroidCheckinRequest", "checkin")
	}
	return nil
}

// AndroidCheckinResponse carries the (possibly new) device identity.
type AndroidCheckinResponse struct {
	StatsOk       bool
	TimeMsec      *int64
	Digest        string
	MarketOk      *bool
	AndroidID     *uint64
	SecurityToken *uint64
	VersionInfo   string
}

func (m *AndroidCheckinResponse) Marshal() ([]byte, error) {
	b := appendBool(nil, 1, m.StatsOk)
	if m.TimeMsec != nil {
		b = appendInt64(b, 3, *m.TimeMsec)
	}
	b = appendOptString(b, 4, m.Digest)
	if m.MarketOk != nil {
		b = appendBool(b, 6, *m.MarketOk)
	}
	if m.AndroidID != nil {
		b = appendFixed64(b, 7, *m.AndroidID)
	}
	if m.SecurityToken != nil {
		b = appendFixed64(b, 8, *m.SecurityToken)
	}
	b = appendOptString(b, 11, m.VersionInfo)
	return b, nil
}

func (m *AndroidCheckinResponse) Unmarshal(b []byte) error {
	*m = AndroidCheckinResponse{}
	var hasStats bool
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.StatsOk = d.bool()
			hasStats = true
		case 3:
			v := d.int64()
			m.TimeMsec = &v
		case 4:
			m.Digest = d.string()
		case 6:
			v := d.bool()
			m.MarketOk = &v
		case 7:
			v := d.fixed64()
			m.AndroidID = &v
		case 8:
			v := d.fixed64()
			m.SecurityToken = &v
		case 11:
			m.VersionInfo = d.string()
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if !hasStats {
		return missing("AndroidCheckinResponse", "stats_ok")
	}
	return nil
}

// GetAndroidID returns the android id, or 0 when the server sent none.
func (m *AndroidCheckinResponse) GetAndroidID() uint64 {
	if m == nil || m.AndroidID == nil {
		return 0
	}
	return *m.AndroidID
}

// GetSecurityToken returns the security token, or 0 when the server sent none.
func (m *AndroidCheckinResponse) GetSecurityToken() uint64 {
	if m == nil || m.SecurityToken == nil {
		return 0
	}
	return *m.SecurityToken
}
