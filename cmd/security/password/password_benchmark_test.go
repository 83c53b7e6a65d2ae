package password

import "testing"

func BenchmarkHashVerify(b *testing.B) {
	configs := map[string]Config{
		"default": DefaultConfig(),
		"cheap":   cheap(),
	}

	for name, cfg := range configs {
		b.Run(name+"/hash", func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if _, err := cfg.Hash("correct horse battery"); err != nil {
					b.Fatalf("Hash error: %v", err)
				}
			}
		})

		h, err := cfg.Hash("correct horse battery")
		if err != nil {
			b.Fatalf("Hash error: %v", err)
		}
		b.Run(name+"/matches", func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				if !cfg.Matches(h, "correct horse battery") {
					b.Fatalf("Matches failed")
				}
			}
		})
	}
}
