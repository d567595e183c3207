package vrt

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/beevik/etree"
	"go.airbusds-geo.com/log"
)

// AddOverview links every band of the descriptor at vrtPath to the same
// band of the descriptor at ovrPath. The document is edited in place so
// that everything else in it survives untouched. Bands without a band
// number cannot be linked and are skipped with a warning.
func AddOverview(ctx context.Context, vrtPath, ovrPath string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(vrtPath); err != nil {
		return fmt.Errorf("parse descriptor %s: %w", vrtPath, err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "VRTDataset" {
		return fmt.Errorf("descriptor %s has no VRTDataset root", vrtPath)
	}

	relative := "1"
	if filepath.IsAbs(ovrPath) {
		relative = "0"
	}

	for _, band := range root.SelectElements("VRTRasterBand") {
		attr := band.SelectAttr("band")
		if attr == nil {
			log.Logger(ctx).Sugar().Warnf("cannot find band attribute in VRTRasterBand of %s", vrtPath)
			continue
		}
		ovr := band.CreateElement("Overview")
		sf := ovr.CreateElement("SourceFilename")
		sf.CreateAttr("relativeToVRT", relative)
		sf.SetText(ovrPath)
		sb := ovr.CreateElement("SourceBand")
		sb.SetText(attr.Value)
	}

	if err := doc.WriteToFile(vrtPath); err != nil {
		return fmt.Errorf("save updated descriptor %s: %w", vrtPath, err)
	}
	return nil
}
