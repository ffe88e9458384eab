package root

import (
	"github.com/upem-wims/wims-lti/apps/cli/cmd/bootstrap"
	lmscmd "github.com/upem-wims/wims-lti/apps/cli/cmd/lms"
	wimscmd "github.com/upem-wims/wims-lti/apps/cli/cmd/wims"
)

func init() {
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(lmscmd.Command())
	Root().AddCommand(wimscmd.Command())
}
