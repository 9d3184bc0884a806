package reconcile

import (
	"context"

	"github.com/picklr-io/converge/internal/directory"
	"github.com/picklr-io/converge/internal/ir"
)

// KeyPairs reconciles imported SSH keypairs by name.
type KeyPairs struct {
	Dir   directory.KeyPairs
	Retry *RetryPolicy
}

// Ensure imports the key unless a keypair with the same name exists. The
// handle is the key name, which is what instances reference.
func (k *KeyPairs) Ensure(ctx context.Context, spec ir.KeyPairSpec) (*Result[directory.KeyPair], error) {
	return (&Operation[directory.KeyPair]{
		Kind:     "keypair",
		Identity: string(spec.Name),
		Retry:    k.Retry,
		List:     k.Dir.ListKeyPairs,
		Match: func(kp directory.KeyPair) bool {
			return kp.Name == spec.Name
		},
		Handle: func(kp directory.KeyPair) string {
			return string(kp.Name)
		},
		Create: func(ctx context.Context) (directory.KeyPair, error) {
			kp, err := k.Dir.ImportKeyPair(ctx, spec.Name, []byte(spec.PublicKey))
			return deref(kp), err
		},
	}).Execute(ctx)
}
