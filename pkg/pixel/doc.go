// Package pixel manages the Meta Pixel ID of link pages.
//
// Only the setting is handled here; rendering the pixel snippet on the public
// page belongs to the page renderer.
//
//	svc := pixel.NewService(postgres.NewPixelStore(dbs), 1024, 5*time.Minute, metrics)
//	settings, err := svc.Settings(ctx, linkPageID)
//	if settings.Enabled {
//		// emit fbq('init', settings.PixelID)
//	}
package pixel
