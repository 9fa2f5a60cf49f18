package syncmgr

import "gonum.org/v1/gonum/spatial/r3"

func vec(p [3]float64) r3.Vec { return r3.Vec{X: p[0], Y: p[1], Z: p[2]} }
