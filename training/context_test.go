package training

import (
	"strings"
	"testing"
)

func TestCheckContexts(t *testing.T) {
	t.Run("defaults to cpu without accelerators", func(t *testing.T) {
		RegisterAccelerators(0)
		logger := &recordLogger{}

		contexts, err := checkContexts(nil, logger)
		if err != nil {
			t.Fatalf("checkContexts failed: %v", err)
		}
		if len(contexts) != 1 || contexts[0].Device != CPUDevice {
			t.Errorf("expected [cpu(0)], got %v", contexts)
		}
	})

	t.Run("defaults to single gpu when available", func(t *testing.T) {
		RegisterAccelerators(1)
		defer RegisterAccelerators(0)
		logger := &recordLogger{}

		contexts, err := checkContexts(nil, logger)
		if err != nil {
			t.Fatalf("checkContexts failed: %v", err)
		}
		if len(contexts) != 1 || contexts[0].Device != GPUDevice || contexts[0].ID != 0 {
			t.Errorf("expected [gpu(0)], got %v", contexts)
		}
		if len(logger.lines) != 0 {
			t.Errorf("expected no warning for a single gpu, got %v", logger.lines)
		}
	})

	t.Run("warns when multiple gpus available", func(t *testing.T) {
		RegisterAccelerators(4)
		defer RegisterAccelerators(0)
		logger := &recordLogger{}

		contexts, err := checkContexts(nil, logger)
		if err != nil {
			t.Fatalf("checkContexts failed: %v", err)
		}
		if len(contexts) != 1 || contexts[0] != GPU(0) {
			t.Errorf("expected [gpu(0)], got %v", contexts)
		}
		if !logger.contains("multiple GPUs") {
			t.Errorf("expected multi-gpu warning, got %v", logger.lines)
		}
	})

	t.Run("rejects mixed devices", func(t *testing.T) {
		RegisterAccelerators(1)
		defer RegisterAccelerators(0)

		_, err := checkContexts([]Context{CPU(), GPU(0)}, &recordLogger{})
		if err == nil {
			t.Fatal("expected error for mixed devices")
		}
		if !strings.Contains(err.Error(), "homogeneous") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("rejects unavailable gpu", func(t *testing.T) {
		RegisterAccelerators(1)
		defer RegisterAccelerators(0)

		_, err := checkContexts([]Context{GPU(3)}, &recordLogger{})
		if err == nil {
			t.Fatal("expected error for unavailable gpu")
		}
		if !strings.Contains(err.Error(), "gpu(3) is not available") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("keeps explicit contexts", func(t *testing.T) {
		RegisterAccelerators(2)
		defer RegisterAccelerators(0)

		contexts, err := checkContexts([]Context{GPU(0), GPU(1)}, &recordLogger{})
		if err != nil {
			t.Fatalf("checkContexts failed: %v", err)
		}
		if len(contexts) != 2 {
			t.Errorf("expected 2 contexts, got %v", contexts)
		}
	})
}

func TestContextString(t *testing.T) {
	if got := CPU().String(); got != "cpu(0)" {
		t.Errorf("expected cpu(0), got %s", got)
	}
	if got := GPU(2).String(); got != "gpu(2)" {
		t.Errorf("expected gpu(2), got %s", got)
	}
}
