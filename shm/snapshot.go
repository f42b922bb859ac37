package shm

// Snapshot is a plain copy of the fields shown by the status endpoint and
// the monitor screen.
type Snapshot struct {
	Manager struct {
		Addr       string `json:"addr"`
		StatusPort int32  `json:"statusPort"`
	} `json:"manager"`

	Cardiac struct {
		Rhythm     string `json:"rhythm"`
		Rate       int32  `json:"rate"`
		PEA        int32  `json:"pea"`
		HeartSound string `json:"heartSound"`
	} `json:"cardiac"`

	Auscultation struct {
		Side              int32  `json:"side"`
		Row               int32  `json:"row"`
		Col               int32  `json:"col"`
		HeartStrength     int32  `json:"heartStrength"`
		LeftLungStrength  int32  `json:"leftLungStrength"`
		RightLungStrength int32  `json:"rightLungStrength"`
		Tag               string `json:"tag"`
	} `json:"auscultation"`

	Pulse struct {
		RightDorsal  int32                 `json:"right_dorsal"`
		LeftDorsal   int32                 `json:"left_dorsal"`
		RightFemoral int32                 `json:"right_femoral"`
		LeftFemoral  int32                 `json:"left_femoral"`
		AIN          [PulsePointsMax]int32 `json:"ain"`
		Touch        [PulsePointsMax]int32 `json:"touch"`
		Base         [PulsePointsMax]int32 `json:"base"`
		Volume       [PulsePointsMax]int32 `json:"volume"`
	} `json:"pulse"`

	Respiration struct {
		Rate           int32 `json:"rate"`
		ChestMovement  int32 `json:"chestMovement"`
		Active         int32 `json:"active"`
		ManualBreath   int32 `json:"manualBreath"`
		RiseState      int32 `json:"riseState"`
		FallState      int32 `json:"fallState"`
		ManualAIN      int32 `json:"ain"`
		ManualBaseline int32 `json:"baseline"`
	} `json:"respiration"`

	CPR struct {
		Last        int32 `json:"last"`
		Compression int32 `json:"compression"`
		Release     int32 `json:"release"`
		X           int32 `json:"x"`
		Y           int32 `json:"y"`
		Z           int32 `json:"z"`
		Distance    int32 `json:"distance"`
		MaxDistance int32 `json:"maxDistance"`
	} `json:"cpr"`
}

func (d *Data) Snapshot() (s Snapshot) {
	s.Manager.Addr = d.Header.SimMgrIPAddr.Load()
	s.Manager.StatusPort = d.Header.SimMgrStatusPort.Load()

	s.Cardiac.Rhythm = d.Cardiac.Rhythm.Load()
	s.Cardiac.Rate = d.Cardiac.Rate.Load()
	s.Cardiac.PEA = d.Cardiac.PEA.Load()
	s.Cardiac.HeartSound = d.Cardiac.HeartSound.Load()

	a := &d.Auscultation
	s.Auscultation.Side = a.Side.Load()
	s.Auscultation.Row = a.Row.Load()
	s.Auscultation.Col = a.Col.Load()
	s.Auscultation.HeartStrength = a.HeartStrength.Load()
	s.Auscultation.LeftLungStrength = a.LeftLungStrength.Load()
	s.Auscultation.RightLungStrength = a.RightLungStrength.Load()
	s.Auscultation.Tag = a.Tag.Load()

	p := &d.Pulse
	s.Pulse.RightDorsal = p.RightDorsal.Load()
	s.Pulse.LeftDorsal = p.LeftDorsal.Load()
	s.Pulse.RightFemoral = p.RightFemoral.Load()
	s.Pulse.LeftFemoral = p.LeftFemoral.Load()
	for i := 0; i < PulsePointsMax; i++ {
		s.Pulse.AIN[i] = p.AIN[i].Load()
		s.Pulse.Touch[i] = p.Touch[i].Load()
		s.Pulse.Base[i] = p.Base[i].Load()
		s.Pulse.Volume[i] = p.Volume[i].Load()
	}

	r := &d.Respiration
	s.Respiration.Rate = r.Rate.Load()
	s.Respiration.ChestMovement = r.ChestMovement.Load()
	s.Respiration.Active = r.Active.Load()
	s.Respiration.ManualBreath = r.ManualBreath.Load()
	s.Respiration.RiseState = r.RiseState.Load()
	s.Respiration.FallState = r.FallState.Load()
	s.Respiration.ManualAIN = d.ManualBreathAIN.Load()
	s.Respiration.ManualBaseline = d.ManualBreathBaseline.Load()

	c := &d.CPR
	s.CPR.Last = c.Last.Load()
	s.CPR.Compression = c.Compression.Load()
	s.CPR.Release = c.Release.Load()
	s.CPR.X = c.X.Load()
	s.CPR.Y = c.Y.Load()
	s.CPR.Z = c.Z.Load()
	s.CPR.Distance = c.Distance.Load()
	s.CPR.MaxDistance = c.MaxDistance.Load()

	return
}
