package matching

import "math"

// soloFare prices an unpooled ride over the whole route, never below
// one kilometre's rate.
func (s *Service) soloFare(totalKm float64) int {
	fare := int(math.Ceil(totalKm * float64(s.cfg.RatePerKM)))
	if fare < s.cfg.RatePerKM {
		fare = s.cfg.RatePerKM
	}
	return fare
}

// pooledFare prices each member of a pairing. The anchor is the peer
// entry's issued price: the discount factor of it is kept and rounded
// up, so every join event compounds the discount for the whole group.
func (s *Service) pooledFare(anchor int) int {
	return int(math.Ceil(float64(anchor) * s.cfg.PoolDiscountFactor))
}
