package sample

import (
	"math"
	"math/rand"
	"sync"

	"github.com/LeonardoBeccarini/soilwatch/internal/model/entities"
	"github.com/LeonardoBeccarini/soilwatch/internal/model/messages"
	"github.com/LeonardoBeccarini/soilwatch/internal/policy"
)

// ====== Tunables ======
const (
	baseTemperature = 25.0
	tempSpread      = 8.0 // ±4°C

	moistureFloor   = 10
	moistureCeiling = 80
)

// Generator produce telemetria plausibile a partire dall'ultima lettura.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGenerator(seed int64) *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(seed))}
}

// Next derives the next sample. prev may be nil when no reading exists yet.
func (g *Generator) Next(prev *entities.Reading, pol policy.Policy) messages.Telemetry {
	g.mu.Lock()
	defer g.mu.Unlock()

	temperature := math.Round((baseTemperature+(g.rnd.Float64()-0.5)*tempSpread)*10) / 10

	var moisture float64
	if prev != nil {
		// calo graduale 1-4%, risalita 5-13% se la pompa era accesa
		moisture = math.Max(moistureFloor, float64(prev.SoilMoisture)-(g.rnd.Float64()*3+1))
		if prev.PumpOn {
			moisture = math.Min(moistureCeiling, moisture+g.rnd.Float64()*8+5)
		}
	} else {
		moisture = float64(g.rnd.Intn(40) + 30)
	}
	soil := int(math.Round(moisture))

	var pumpOn bool
	switch pol.Mode {
	case entities.ModeManual:
		pumpOn = pol.ManualPumpOn()
	default:
		pumpOn = soil < pol.MoistureThreshold
	}

	return messages.Telemetry{
		Temperature:  temperature,
		SoilMoisture: soil,
		PumpOn:       pumpOn,
	}
}
