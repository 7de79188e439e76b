package util

import "github.com/pkg/errors"

// TryCatchBlock represents try-catch-finally control flow around vendor
// stack calls, which panic on some failure paths.
type TryCatchBlock struct {
	Try     func()
	Catch   func(error)
	Finally func()
}

// Do executes the block.
func (tcf TryCatchBlock) Do() {
	if tcf.Finally != nil {
		defer tcf.Finally()
	}
	if tcf.Catch != nil {
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = errors.Errorf("%v", r)
				}
				tcf.Catch(err)
			}
		}()
	}
	tcf.Try()
}

// CatchErrs runs fn and converts a panic into a returned error.
func CatchErrs(fn func() error) error {
	var err error
	TryCatchBlock{
		Try: func() {
			err = fn()
		},
		Catch: func(caught error) {
			err = errors.Wrap(caught, "panic issue: ")
		},
	}.Do()
	return err
}
