// Package vehicle owns the composite wheeled vehicle: a planar chassis, one
// powertrain and four tires, each integrated at its own rate.
//
// Responsibilities: multi-rate time integration (powertrain once per outer
// step, tires on their own sub-step), driver input conditioning, terrain
// queries at the wheel contact points and the reported vehicle state.
// Key types: Assembly, Powertrain, Tire.
//
// Tire force laws and powertrain torque maps are data (see Table); their
// constitutive details are not modelled here beyond evaluating them.
package vehicle
