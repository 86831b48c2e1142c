package plugin

import (
	"fmt"
	goplugin "plugin"
)

// registerSymbol is the exported symbol every compiled plugin module (.so)
// must provide — the Go adaptation of the spec's "import listed files;
// invoke register()" step. Go has no runtime source-import equivalent to
// Python's import machinery, so plugin "files" are compiled Go plugin
// objects opened via the standard library's plugin package, the
// idiomatic way Go itself expresses dynamic code loading.
const registerSymbol = "Register"

func importModules(files []string, ctx *RegistrationContext) error {
	for _, file := range files {
		if err := importModule(file, ctx); err != nil {
			return fmt.Errorf("import %s: %w", file, err)
		}
	}
	return nil
}

func importModule(file string, ctx *RegistrationContext) error {
	p, err := goplugin.Open(file)
	if err != nil {
		return err
	}
	sym, err := p.Lookup(registerSymbol)
	if err != nil {
		return fmt.Errorf("missing %s symbol: %w", registerSymbol, err)
	}

	switch register := sym.(type) {
	case func(*RegistrationContext) error:
		return register(ctx)
	case RegisterFunc:
		return register(ctx)
	case *RegisterFunc:
		return (*register)(ctx)
	default:
		return fmt.Errorf("%s symbol has unexpected type %T", registerSymbol, sym)
	}
}
