package shm

// Seed writes the power-on defaults the bootstrap process leaves behind:
// a running heart and breathing, cleared CPR and trims, and a free bus.
func (d *Data) Seed() {
	d.Cardiac.Rate.Store(80)
	d.Respiration.AwRR.Store(50)

	d.CPR.Last.Store(0)
	d.CPR.Compression.Store(0)
	d.CPR.Release.Store(0)
	d.CPR.Duration.Store(0)
	d.CPR.X.Store(0)
	d.CPR.Y.Store(0)
	d.CPR.Z.Store(0)
	d.CPR.Distance.Store(0)
	d.CPR.MaxDistance.Store(0)

	d.Auscultation.HeartTrim.Store(0)
	d.Auscultation.LungTrim.Store(0)

	d.Header.BusLock.Store(0)
}
