package bootloader

import (
	"fmt"

	"github.com/jacobin-thx/G474-bootloader/internal/flash"
)

// EraseStep is one driver erase call.
type EraseStep struct {
	Bank      flash.Bank
	StartPage uint32
	Count     uint32
}

// ErasePlan is the sequence of erase calls for a page count and the
// watermark it establishes.
type ErasePlan struct {
	Pages     uint32
	Steps     []EraseStep
	Watermark uint32
}

// PlanErase maps a page count onto the two banks. Pages fill bank 1 after
// the reserved bootloader region first; the overflow continues at page 0
// of bank 2.
func PlanErase(g flash.Geometry, pages uint32) (ErasePlan, error) {
	if pages == 0 || pages > g.ErasablePages() {
		return ErasePlan{}, fmt.Errorf("%w: %d pages (allowed 1..%d)", ErrInvalidEraseRequest, pages, g.ErasablePages())
	}

	plan := ErasePlan{
		Pages:     pages,
		Watermark: g.Base + (pages+g.ReservedPages)*g.PageSize,
	}

	bank1 := g.PagesPerBank - g.ReservedPages
	if pages <= bank1 {
		plan.Steps = []EraseStep{{Bank: flash.Bank1, StartPage: g.ReservedPages, Count: pages}}
		return plan, nil
	}

	plan.Steps = []EraseStep{
		{Bank: flash.Bank1, StartPage: g.ReservedPages, Count: bank1},
		{Bank: flash.Bank2, StartPage: 0, Count: pages - bank1},
	}
	return plan, nil
}

// Erase executes plan and advances the watermark. The watermark is left
// unchanged if any erase call fails.
func (s *Session) Erase(plan ErasePlan) error {
	err := s.bracket(func() error {
		for _, step := range plan.Steps {
			s.log.Debug().
				Stringer("bank", step.Bank).
				Uint32("start_page", step.StartPage).
				Uint32("count", step.Count).
				Msg("Erasing pages")
			if err := s.driver.Erase(step.Bank, step.StartPage, step.Count); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("erase %d pages: %w", plan.Pages, err)
	}

	s.watermark = plan.Watermark
	return nil
}
