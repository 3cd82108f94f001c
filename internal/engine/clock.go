package engine

import "github.com/roach88/rover/internal/handler"

// Clock supplies wall time to the dispatcher, the scheduler and the day
// counters. Tests substitute testutil.FakeClock.
type Clock = handler.Clock

// SystemClock reads time.Now.
var SystemClock = handler.SystemClock
