package sensor_simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ====== Tunables ======
const (
	// gainPerMin: +1.5% per minuto con la pompa ON (in [0..1]).
	gainPerMin = 0.015

	// defaultSeed: moisture iniziale se non specificata.
	defaultSeed = 0.50

	baseTemperature = 27.0
	baseHumidity    = 70.0
)

// Sample è una lettura grezza del campo, prima della codifica firmware.
type Sample struct {
	Temperature float64
	Humidity    float64
	Moisture    int // percentuale 0..100
}

// DataGenerator mantiene lo stato interno della moisture e lo aggiorna nel tempo.
type DataGenerator struct {
	mu          sync.Mutex
	last        time.Time
	moisture    float64 // [0..1]
	decayPerMin float64 // es. 0.004 → -0.4%/min con pompa OFF
	rnd         *rand.Rand
	now         func() time.Time
}

// NewDataGenerator crea un generatore con dato tasso di decadimento (OFF) per minuto
// e moisture iniziale in [0..1]; seed < 0 usa il default.
func NewDataGenerator(decayPerMin, seed float64) *DataGenerator {
	if seed < 0 {
		seed = defaultSeed
	}
	return &DataGenerator{
		moisture:    clamp01(seed),
		decayPerMin: math.Max(0, decayPerMin),
		rnd:         rand.New(rand.NewSource(time.Now().UnixNano())),
		now:         time.Now,
	}
}

// Next avanza lo stato al tempo corrente, con la pompa nello stato indicato.
func (g *DataGenerator) Next(pumpOn bool) Sample {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if g.last.IsZero() {
		g.last = now
	}
	dtMin := now.Sub(g.last).Minutes()
	if dtMin < 0 {
		dtMin = 0
	}

	if pumpOn {
		g.moisture = clamp01(g.moisture + gainPerMin*dtMin)
	} else {
		g.moisture = clamp01(g.moisture - g.decayPerMin*dtMin)
	}
	g.last = now

	return Sample{
		Temperature: math.Round((baseTemperature+g.rnd.NormFloat64())*10) / 10,
		Humidity:    math.Round((baseHumidity + g.rnd.NormFloat64()*3)),
		Moisture:    int(math.Round(g.moisture * 100)),
	}
}

// Moisture restituisce la moisture corrente in percentuale.
func (g *DataGenerator) Moisture() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(math.Round(g.moisture * 100))
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
