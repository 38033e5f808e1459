package app

import (
	"github.com/labkit/modhost/internal/registry"
	"github.com/labkit/modhost/modules/counterlogic"
	"github.com/labkit/modhost/modules/slowcounter"
)

// coreModules is the definitive list of module packages compiled into the
// modhost binary.
var coreModules = []registry.Registrant{
	&slowcounter.Module{},
	&counterlogic.Module{},
}
