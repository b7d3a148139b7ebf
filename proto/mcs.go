package proto

// HeartbeatPing is sent by either side to keep the connection alive.
type HeartbeatPing struct {
	StreamID             *int32
	LastStreamIDReceived *int32
	Status               *int64
}

func (m *HeartbeatPing) Marshal() ([]byte, error) {
	return appendHeartbeat(nil, m.StreamID, m.LastStreamIDReceived, m.Status), nil
}

func (m *HeartbeatPing) Unmarshal(b []byte) error {
	*m = HeartbeatPing{}
	return unmarshalHeartbeat(b, &m.StreamID, &m.LastStreamIDReceived, &m.Status)
}

// HeartbeatAck answers a HeartbeatPing.
type HeartbeatAck struct {
	StreamID             *int32
	LastStreamIDReceived *int32
	Status               *int64
}

func (m *HeartbeatAck) Marshal() ([]byte, error) {
	return appendHeartbeat(nil, m.StreamID, m.LastStreamIDReceived, m.Status), nil
}

func (m *HeartbeatAck) Unmarshal(b []byte) error {
	*m = HeartbeatAck{}
	return unmarshalHeartbeat(b, &m.StreamID, &m.LastStreamIDReceived, &m.Status)
}

func appendHeartbeat(b []byte, streamID, lastStreamID *int32, status *int64) []byte {
	if streamID != nil {
		b = appendInt32(b, 1, *streamID)
	}
	if lastStreamID != nil {
		b = appendInt32(b, 2, *lastStreamID)
	}
	if status != nil {
		b = appendInt64(b, 3, *status)
	}
	return b
}

func unmarshalHeartbeat(b []byte, streamID, lastStreamID **int32, status **int64) error {
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			v := d.int32()
			*streamID = &v
		case 2:
			v := d.int32()
			*lastStreamID = &v
		case 3:
			v := d.int64()
			*status = &v
		default:
			d.skip()
		}
	}
	return d.err
}

// ErrorInfo describes a server side failure.
type ErrorInfo struct {
	Code    int32
	Message string
	Type    string
}

func (m *ErrorInfo) Marshal() ([]byte, error) {
	b := appendInt32(nil, 1, m.Code)
	b = appendOptString(b, 2, m.Message)
	b = appendOptString(b, 3, m.Type)
	return b, nil
}

func (m *ErrorInfo) Unmarshal(b []byte) error {
	*m = ErrorInfo{}
	var hasCode bool
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Code = d.int32()
			hasCode = true
		case 2:
			m.Message = d.string()
		case 3:
			m.Type = d.string()
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if !hasCode {
		return missing("ErrorInfo", "code")
	}
	return nil
}

// Setting is a name/value pair exchanged at login.
type Setting struct {
	Name  string
	Value string
}

func (m *Setting) Marshal() ([]byte, error) {
	if m.Name == "" {
		return nil, missing("Setting", "name")
	}
	b := appendString(nil, 1, m.Name)
	return appendString(b, 2, m.Value), nil
}

func (m *Setting) Unmarshal(b []byte) error {
	*m = Setting{}
	var seen uint8
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Name = d.string()
			seen |= 1
		case 2:
			m.Value = d.string()
			seen |= 2
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if seen&1 == 0 {
		return missing("Setting", "name")
	}
	if seen&2 == 0 {
		return missing("Setting", "value")
	}
	return nil
}

// HeartbeatStat tells the server which heartbeat interval the client runs.
type HeartbeatStat struct {
	IP         string
	Timeout    bool
	IntervalMs int32
}

func (m *HeartbeatStat) Marshal() ([]byte, error) {
	b := appendString(nil, 1, m.IP)
	b = appendBool(b, 2, m.Timeout)
	return appendInt32(b, 3, m.IntervalMs), nil
}

func (m *HeartbeatStat) Unmarshal(b []byte) error {
	*m = HeartbeatStat{}
	var seen uint8
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.IP = d.string()
			seen |= 1
		case 2:
			m.Timeout = d.bool()
			seen |= 2
		case 3:
			m.IntervalMs = d.int32()
			seen |= 4
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	for i, field := range []string{"ip", "timeout", "interval_ms"} {
		if seen&(1<<i) == 0 {
			return missing("HeartbeatStat", field)
		}
	}
	return nil
}

// HeartbeatConfig is the server's heartbeat recommendation.
type HeartbeatConfig struct {
	UploadStat *bool
	IP         string
	IntervalMs *int32
}

func (m *HeartbeatConfig) Marshal() ([]byte, error) {
	var b []byte
	if m.UploadStat != nil {
		b = appendBool(b, 1, *m.UploadStat)
	}
	b = appendOptString(b, 2, m.IP)
	if m.IntervalMs != nil {
		b = appendInt32(b, 3, *m.IntervalMs)
	}
	return b, nil
}

func (m *HeartbeatConfig) Unmarshal(b []byte) error {
	*m = HeartbeatConfig{}
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			v := d.bool()
			m.UploadStat = &v
		case 2:
			m.IP = d.string()
		case 3:
			v := d.int32()
			m.IntervalMs = &v
		default:
			d.skip()
		}
	}
	return d.err
}

// AuthService selects how LoginRequest.AuthToken is interpreted.
type AuthService int32

// LoginRequestAndroidID authenticates with the check-in android id and
// security token.
const LoginRequestAndroidID AuthService = 2

// LoginRequest opens an MCS session.
type LoginRequest struct {
	ID                   string
	Domain               string
	User                 string
	Resource             string
	AuthToken            string
	DeviceID             string
	LastRmqID            *int64
	Setting              []*Setting
	ReceivedPersistentID []string
	AdaptiveHeartbeat    *bool
	HeartbeatStat        *HeartbeatStat
	UseRmq2              *bool
	AccountID            *int64
	AuthService          *AuthService
	NetworkType          *int32
	Status               *int64
}

func (m *LoginRequest) validate() error {
	switch {
	case m.ID == "":
		return missing("LoginRequest", "id")
	case m.Domain == "":
		return missing("LoginRequest", "domain")
	case m.User == "":
		return missing("LoginRequest", "user")
	case m.Resource == "":
		return missing("LoginRequest", "resource")
	case m.AuthToken == "":
		return missing("LoginRequest", "auth_token")
	}
	return nil
}

func (m *LoginRequest) Marshal() ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}

	var err error
	b := appendString(nil, 1, m.ID)
	b = appendString(b, 2, m.Domain)
	b = appendString(b, 3, m.User)
	b = appendString(b, 4, m.Resource)
	b = appendString(b, 5, m.AuthToken)
	b = appendOptString(b, 6, m.DeviceID)
	if m.LastRmqID != nil {
		b = appendInt64(b, 7, *m.LastRmqID)
	}
	for _, s := range m.Setting {
		if b, err = appendMessage(b, 8, s); err != nil {
			return nil, err
		}
	}
	for _, id := range m.ReceivedPersistentID {
		b = appendString(b, 10, id)
	}
	if m.AdaptiveHeartbeat != nil {
		b = appendBool(b, 12, *m.AdaptiveHeartbeat)
	}
	if m.HeartbeatStat != nil {
		if b, err = appendMessage(b, 13, m.HeartbeatStat); err != nil {
			return nil, err
		}
	}
	if m.UseRmq2 != nil {
		b = appendBool(b, 14, *m.UseRmq2)
	}
	if m.AccountID != nil {
		b = appendInt64(b, 15, *m.AccountID)
	}
	if m.AuthService != nil {
		b = appendInt32(b, 16, int32(*m.AuthService))
	}
	if m.NetworkType != nil {
		b = appendInt32(b, 17, *m.NetworkType)
	}
	if m.Status != nil {
		b = appendInt64(b, 18, *m.Status)
	}
	return b, nil
}

func (m *LoginRequest) Unmarshal(b []byte) error {
	*m = LoginRequest{}
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.string()
		case 2:
			m.Domain = d.string()
		case 3:
			m.User = d.string()
		case 4:
			m.Resource = d.string()
		case 5:
			m.AuthToken = d.string()
		case 6:
			m.DeviceID = d.string()
		case 7:
			v := d.int64()
			m.LastRmqID = &v
		case 8:
			s := &Setting{}
			d.message(s)
			m.Setting = append(m.Setting, s)
		case 10:
			m.ReceivedPersistentID = append(m.ReceivedPersistentID, d.string())
		case 12:
			v := d.bool()
			m.AdaptiveHeartbeat = &v
		case 13:
			m.HeartbeatStat = &HeartbeatStat{}
			d.message(m.HeartbeatStat)
		case 14:
			v := d.bool()
			m.UseRmq2 = &v
		case 15:
			v := d.int64()
			m.AccountID = &v
		case 16:
			v := AuthService(d.int32())
			m.AuthService = &v
		case 17:
			v := d.int32()
			m.NetworkType = &v
		case 18:
			v := d.int64()
			m.Status = &v
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	return m.validate()
}

// LoginResponse acknowledges a LoginRequest.
type LoginResponse struct {
	ID                   string
	JID                  string
	Error                *ErrorInfo
	Setting              []*Setting
	StreamID             *int32
	LastStreamIDReceived *int32
	HeartbeatConfig      *HeartbeatConfig
	ServerTimestamp      *int64
}

func (m *LoginResponse) Marshal() ([]byte, error) {
	var err error
	b := appendString(nil, 1, m.ID)
	b = appendOptString(b, 2, m.JID)
	if m.Error != nil {
		if b, err = appendMessage(b, 3, m.Error); err != nil {
			return nil, err
		}
	}
	for _, s := range m.Setting {
		if b, err = appendMessage(b, 4, s); err != nil {
			return nil, err
		}
	}
	if m.StreamID != nil {
		b = appendInt32(b, 5, *m.StreamID)
	}
	if m.LastStreamIDReceived != nil {
		b = appendInt32(b, 6, *m.LastStreamIDReceived)
	}
	if m.HeartbeatConfig != nil {
		if b, err = appendMessage(b, 7, m.HeartbeatConfig); err != nil {
			return nil, err
		}
	}
	if m.ServerTimestamp != nil {
		b = appendInt64(b, 8, *m.ServerTimestamp)
	}
	return b, nil
}

func (m *LoginResponse) Unmarshal(b []byte) error {
	*m = LoginResponse{}
	var hasID bool
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.string()
			hasID = true
		case 2:
			m.JID = d.string()
		case 3:
			m.Error = &ErrorInfo{}
			d.message(m.Error)
		case 4:
			s := &Setting{}
			d.message(s)
			m.Setting = append(m.Setting, s)
		case 5:
			v := d.int32()
			m.StreamID = &v
		case 6:
			v := d.int32()
			m.LastStreamIDReceived = &v
		case 7:
			m.HeartbeatConfig = &HeartbeatConfig{}
			d.message(m.HeartbeatConfig)
		case 8:
			v := d.int64()
			m.ServerTimestamp = &v
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if !hasID {
		return missing("LoginResponse", "id")
	}
	return nil
}

// GetServerTimestamp returns the server clock in milliseconds, or 0.
func (m *LoginResponse) GetServerTimestamp() int64 {
	if m == nil || m.ServerTimestamp == nil {
		return 0
	}
	return *m.ServerTimestamp
}

// StreamErrorStanza is sent by the server before it drops the stream.
type StreamErrorStanza struct {
	Type string
	Text string
}

func (m *StreamErrorStanza) Marshal() ([]byte, error) {
	if m.Type == "" {
		return nil, missing("StreamErrorStanza", "type")
	}
	b := appendString(nil, 1, m.Type)
	return appendOptString(b, 2, m.Text), nil
}

func (m *StreamErrorStanza) Unmarshal(b []byte) error {
	*m = StreamErrorStanza{}
	var hasType bool
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Type = d.string()
			hasType = true
		case 2:
			m.Text = d.string()
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if !hasType {
		return missing("StreamErrorStanza", "type")
	}
	return nil
}

// Close asks the peer to close the connection. It carries no fields.
type Close struct{}

func (m *Close) Marshal() ([]byte, error) { return nil, nil }

func (m *Close) Unmarshal(b []byte) error {
	d := newDecoder(b)
	for d.next() {
		d.skip()
	}
	return d.err
}

// Extension is an opaque IQ payload.
type Extension struct {
	ID   int32
	Data []byte
}

func (m *Extension) Marshal() ([]byte, error) {
	b := appendInt32(nil, 1, m.ID)
	return appendBytes(b, 2, m.Data), nil
}

func (m *Extension) Unmarshal(b []byte) error {
	*m = Extension{}
	var seen uint8
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.ID = d.int32()
			seen |= 1
		case 2:
			m.Data = d.bytes()
			seen |= 2
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if seen&1 == 0 {
		return missing("Extension", "id")
	}
	if seen&2 == 0 {
		return missing("Extension", "data")
	}
	return nil
}

// IqType is the IQ stanza verb.
type IqType int32

const (
	IqGet    IqType = 0
	IqSet    IqType = 1
	IqResult IqType = 2
	IqError  IqType = 3
)

// IqStanza is a request/response stanza. The receiver only logs them.
type IqStanza struct {
	RmqID                *int64
	Type                 IqType
	ID                   string
	From                 string
	To                   string
	Error                *ErrorInfo
	Extension            *Extension
	PersistentID         string
	StreamID             *int32
	LastStreamIDReceived *int32
	AccountID            *int64
	Status               *int64
}

func (m *IqStanza) Marshal() ([]byte, error) {
	if m.ID == "" {
		return nil, missing("IqStanza", "id")
	}

	var (
		b   []byte
		err error
	)
	if m.RmqID != nil {
		b = appendInt64(b, 1, *m.RmqID)
	}
	b = appendInt32(b, 2, int32(m.Type))
	b = appendString(b, 3, m.ID)
	b = appendOptString(b, 4, m.From)
	b = appendOptString(b, 5, m.To)
	if m.Error != nil {
		if b, err = appendMessage(b, 6, m.Error); err != nil {
			return nil, err
		}
	}
	if m.Extension != nil {
		if b, err = appendMessage(b, 7, m.Extension); err != nil {
			return nil, err
		}
	}
	b = appendOptString(b, 8, m.PersistentID)
	if m.StreamID != nil {
		b = appendInt32(b, 9, *m.StreamID)
	}
	if m.LastStreamIDReceived != nil {
		b = appendInt32(b, 10, *m.LastStreamIDReceived)
	}
	if m.AccountID != nil {
		b = appendInt64(b, 11, *m.AccountID)
	}
	if m.Status != nil {
		b = appendInt64(b, 12, *m.Status)
	}
	return b, nil
}

func (m *IqStanza) Unmarshal(b []byte) error {
	*m = IqStanza{}
	var seen uint8
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			v := d.int64()
			m.RmqID = &v
		case 2:
			m.Type = IqType(d.int32())
			seen |= 1
		case 3:
			m.ID = d.string()
			seen |= 2
		case 4:
			m.From = d.string()
		case 5:
			m.To = d.string()
		case 6:
			m.Error = &ErrorInfo{}
			d.message(m.Error)
		case 7:
			m.Extension = &Extension{}
			d.message(m.Extension)
		case 8:
			m.PersistentID = d.string()
		case 9:
			v := d.int32()
			m.StreamID = &v
		case 10:
			v := d.int32()
			m.LastStreamIDReceived = &v
		case 11:
			v := d.int64()
			m.AccountID = &v
		case 12:
			v := d.int64()
			m.Status = &v
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if seen&1 == 0 {
		return missing("IqStanza", "type")
	}
	if seen&2 == 0 {
		return missing("IqStanza", "id")
	}
	return nil
}

// AppData is one key/value header of a data message.
type AppData struct {
	Key   string
	Value string
}

func (m *AppData) Marshal() ([]byte, error) {
	if m.Key == "" {
		return nil, missing("AppData", "key")
	}
	b := appendString(nil, 1, m.Key)
	return appendString(b, 2, m.Value), nil
}

func (m *AppData) Unmarshal(b []byte) error {
	*m = AppData{}
	var seen uint8
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 1:
			m.Key = d.string()
			seen |= 1
		case 2:
			m.Value = d.string()
			seen |= 2
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if seen&1 == 0 {
		return missing("AppData", "key")
	}
	if seen&2 == 0 {
		return missing("AppData", "value")
	}
	return nil
}

// DataMessageStanza carries a push message.
type DataMessageStanza struct {
	ID                   string
	From                 string
	To                   string
	Category             string
	Token                string
	AppData              []*AppData
	FromTrustedServer    *bool
	PersistentID         string
	StreamID             *int32
	LastStreamIDReceived *int32
	RegID                string
	DeviceUserID         *int64
	TTL                  *int32
	Sent                 *int64
	Queued               *int32
	Status               *int64
	RawData              []byte
	ImmediateAck         *bool
}

func (m *DataMessageStanza) Marshal() ([]byte, error) {
	switch {
	case m.From == "":
		return nil, missing("DataMessageStanza", "from")
	case m.Category == "":
		return nil, missing("DataMessageStanza", "category")
	}

	var err error
	b := appendOptString(nil, 2, m.ID)
	b = appendString(b, 3, m.From)
	b = appendOptString(b, 4, m.To)
	b = appendString(b, 5, m.Category)
	b = appendOptString(b, 6, m.Token)
	for _, a := range m.AppData {
		if b, err = appendMessage(b, 7, a); err != nil {
			return nil, err
		}
	}
	if m.FromTrustedServer != nil {
		b = appendBool(b, 8, *m.FromTrustedServer)
	}
	b = appendOptString(b, 9, m.PersistentID)
	if m.StreamID != nil {
		b = appendInt32(b, 10, *m.StreamID)
	}
	if m.LastStreamIDReceived != nil {
		b = appendInt32(b, 11, *m.LastStreamIDReceived)
	}
	b = appendOptString(b, 13, m.RegID)
	if m.DeviceUserID != nil {
		b = appendInt64(b, 16, *m.DeviceUserID)
	}
	if m.TTL != nil {
		b = appendInt32(b, 17, *m.TTL)
	}
	if m.Sent != nil {
		b = appendInt64(b, 18, *m.Sent)
	}
	if m.Queued != nil {
		b = appendInt32(b, 19, *m.Queued)
	}
	if m.Status != nil {
		b = appendInt64(b, 20, *m.Status)
	}
	if m.RawData != nil {
		b = appendBytes(b, 21, m.RawData)
	}
	if m.ImmediateAck != nil {
		b = appendBool(b, 24, *m.ImmediateAck)
	}
	return b, nil
}

func (m *DataMessageStanza) Unmarshal(b []byte) error {
	*m = DataMessageStanza{}
	var seen uint8
	d := newDecoder(b)
	for d.next() {
		switch d.num {
		case 2:
			m.ID = d.string()
		case 3:
			m.From = d.string()
			seen |= 1
		case 4:
			m.To = d.string()
		case 5:
			m.Category = d.string()
			seen |= 2
		case 6:
			m.Token = d.string()
		case 7:
			a := &AppData{}
			d.message(a)
			m.AppData = append(m.AppData, a)
		case 8:
			v := d.bool()
			m.FromTrustedServer = &v
		case 9:
			m.PersistentID = d.string()
		case 10:
			v := d.int32()
			m.StreamID = &v
		case 11:
			v := d.int32()
			m.LastStreamIDReceived = &v
		case 13:
			m.RegID = d.string()
		case 16:
			v := d.int64()
			m.DeviceUserID = &v
		case 17:
			v := d.int32()
			m.TTL = &v
		case 18:
			v := d.int64()
			m.Sent = &v
		case 19:
			v := d.int32()
			m.Queued = &v
		case 20:
			v := d.int64()
			m.Status = &v
		case 21:
			m.RawData = d.bytes()
		case 24:
			v := d.bool()
			m.ImmediateAck = &v
		default:
			d.skip()
		}
	}
	if d.err != nil {
		return d.err
	}
	if seen&1 == 0 {
		return missing("DataMessageStanza", "from")
	}
	if seen&2 == 0 {
		return missing("DataMessageStanza", "category")
	}
	return nil
}

// AppDataValue returns the value of the first app data entry named key.
func (m *DataMessageStanza) AppDataValue(key string) (string, bool) {
	for _, a := range m.AppData {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}
