package mdp

import (
	"github.com/google/uuid"
	"github.com/ohowland/vvc_core/internal/pkg/policy"
	log "github.com/sirupsen/logrus"
)

// Report summarises one episode.
type Report struct {
	Episode      uuid.UUID `json:"Episode"`
	Day          int       `json:"Day"`
	Steps        int       `json:"Steps"`
	TotalReward  float64   `json:"TotalReward"`
	Violations   int       `json:"Violations"`
	Switches     int       `json:"Switches"`
	NonConverged int       `json:"NonConverged"`
	PeakPowerKW  float64   `json:"PeakPowerKW"`
}

// Rollout plays one episode from the current reset state to the end of the day.
func Rollout(env *Env, p policy.Policy, obs []float32, deterministic bool) (Report, error) {
	var report Report
	for done := false; !done; {
		action, err := p.Predict(obs, deterministic)
		if err != nil {
			return report, err
		}
		var reward float64
		var info Info
		obs, reward, done, info, err = env.Step(action)
		if err != nil {
			return report, err
		}
		report.Episode = info.Episode
		report.Day = info.Day
		report.Steps = info.Step
		report.TotalReward += reward
		report.Violations += info.Violations
		report.Switches += info.Switches
		if !info.Converged {
			report.NonConverged++
			log.WithFields(log.Fields{"episode": info.Episode, "step": info.Step}).Warn("[MDP] solve did not converge")
		}
		if info.PowerKW > report.PeakPowerKW {
			report.PeakPowerKW = info.PowerKW
		}
	}
	return report, nil
}

// Episode resets env and plays one full episode with p.
func Episode(env *Env, p policy.Policy, deterministic bool) (Report, error) {
	obs, _, err := env.Reset()
	if err != nil {
		return Report{}, err
	}
	return Rollout(env, p, obs, deterministic)
}
